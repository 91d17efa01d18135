package telegram

import (
	"fmt"
	"log"
	"os"
	"strings"

	"closetapi/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"gorm.io/gorm"
)

var usernames string = os.Getenv("TG_ADMINS") //separated by comma from env

func EscapeMessage(message string) string {
	r := strings.NewReplacer(
		"_", "\\_",
		"*", "\\*",
		"[", "\\[",
		"`", "\\`",
	)
	return r.Replace(message)
}

func isAdmin(username string) bool {
	for _, admin := range strings.Split(usernames, ",") {
		if strings.TrimSpace(admin) == username {
			return true
		}
	}
	return false
}

func statsMessage(db *gorm.DB) string {
	var userCount, imageCount, outfitCount, savedCount int64
	db.Model(&models.UserAccount{}).Count(&userCount)
	db.Model(&models.WardrobeImage{}).Where("image_status = ?", "uploaded").Count(&imageCount)
	db.Model(&models.Outfit{}).Where("processing_status = ?", "completed").Count(&outfitCount)
	db.Model(&models.SavedOutfit{}).Count(&savedCount)
	return fmt.Sprintf(
		"👤 Users: %v\n👕 Wardrobe images: %v\n🧥 Indexed outfits: %v\n⭐ Saved outfits: %v",
		userCount, imageCount, outfitCount, savedCount,
	)
}

func failuresMessage(db *gorm.DB) string {
	var failedImages []models.WardrobeImage
	db.Where("processing_status = ?", "failed").Order("updated_at desc").Limit(10).Find(&failedImages)
	var failedOutfits []models.Outfit
	db.Where("processing_status = ?", "failed").Order("updated_at desc").Limit(10).Find(&failedOutfits)

	if len(failedImages) == 0 && len(failedOutfits) == 0 {
		return "No processing failures ✅"
	}
	description := strings.Builder{}
	description.WriteString("```\n")
	for _, image := range failedImages {
		msg := ""
		if image.ProcessErrorMsg != nil {
			msg = *image.ProcessErrorMsg
		}
		description.WriteString(fmt.Sprintf("image %v  🕐 %s  %s\n", image.ID, image.UpdatedAt.Format("2006-01-02"), msg))
	}
	for _, outfit := range failedOutfits {
		msg := ""
		if outfit.ProcessErrorMsg != nil {
			msg = *outfit.ProcessErrorMsg
		}
		description.WriteString(fmt.Sprintf("outfit %v  🕐 %s  %s\n", outfit.ID, outfit.UpdatedAt.Format("2006-01-02"), msg))
	}
	description.WriteString("```")
	return description.String()
}

func RunOpsBot(db *gorm.DB) {

	if usernames == "" {
		usernames = "formality8765"
	}
	bot, err := tgbotapi.NewBotAPI(os.Getenv("TG_TOKEN"))
	if err != nil {
		println("Error tg bot init")
		log.Panic(err)
	}

	log.Printf("Authorized on account %s", bot.Self.UserName)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := bot.GetUpdatesChan(u)

	for update := range updates {
		if update.Message == nil {
			continue
		}
		log.Printf("[%s] %s", update.Message.From.UserName, update.Message.Text)
		if !isAdmin(update.Message.From.UserName) {
			continue
		}

		switch update.Message.Command() {
		case "start":
			msg := tgbotapi.NewMessage(update.Message.Chat.ID, "Commands:\n/stats - user and closet counts\n/failures - latest processing failures")
			bot.Send(msg)
		case "stats":
			msg := tgbotapi.NewMessage(update.Message.Chat.ID, statsMessage(db))
			bot.Send(msg)
		case "failures":
			msg := tgbotapi.NewMessage(update.Message.Chat.ID, failuresMessage(db))
			msg.ParseMode = "markdown"
			bot.Send(msg)
		}
	}

}
