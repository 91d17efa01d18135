package main

import (
	"context"
	"log"
	"os"

	"closetapi/dbhelper"
	"closetapi/services"
	"closetapi/tasks"
	"closetapi/vectorindex"

	firebase "firebase.google.com/go/v4"
	"github.com/hibiken/asynq"
)

func runScheduler() {

	scheduler := asynq.NewScheduler(asynq.RedisClientOpt{Addr: os.Getenv("ASYNC_BROKER_ADDRESS")}, &asynq.SchedulerOpts{
		LogLevel: asynq.InfoLevel,
	})

	scheduled := []struct {
		cron string
		task *asynq.Task
		desc string
	}{
		{
			cron: "0 4 * * *", // 4:00 AM daily
			task: tasks.NewDeletedAccountsPurgeTask(),
			desc: "Purge accounts with confirmed deletion",
		},
	}

	for _, t := range scheduled {
		entryID, err := scheduler.Register(t.cron, t.task)
		if err != nil {
			log.Fatalf("Failed to register task '%s': %v", t.desc, err)
		}
		log.Printf("Registered task '%s' with ID: %s, cron: %s", t.desc, entryID, t.cron)
	}

	log.Println("Starting scheduler...")
	if err := scheduler.Run(); err != nil {
		log.Fatalf("Scheduler failed: %v", err)
	}
}

func main() {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: os.Getenv("ASYNC_BROKER_ADDRESS")},
		asynq.Config{Concurrency: 10, Queues: map[string]int{
			"process": 7,
			"default": 3,
		}},
	)
	awsService := &services.AWSService{}
	err := awsService.InitPresignClient(context.Background())
	if err != nil {
		log.Fatal("[Queue] Failed to initialize AWS provider: S3")
	}
	app, err := firebase.NewApp(context.Background(), nil)
	if err != nil {
		log.Fatalf("error initializing firebase app: %v\n", err)
		return
	}
	db := dbhelper.SetupDB()

	encoder := services.NewHTTPEncoderService()
	segmenter := services.NewHTTPSegmenterService()
	classifier := services.GoogleClothingClassifier{}
	index := vectorindex.NewPgIndex(db, encoder.Dimensions())
	if err := index.EnsureSchema(context.Background()); err != nil {
		log.Fatalf("[Queue] Failed to provision vector index schema: %v", err)
	}

	mux := asynq.NewServeMux()
	mux.HandleFunc("wardrobe:process_image", func(ctx context.Context, t *asynq.Task) error {
		return tasks.HandleProcessWardrobeImageTask(ctx, t, db, awsService, encoder, segmenter, classifier, index, app)
	})
	mux.HandleFunc("outfit:process", func(ctx context.Context, t *asynq.Task) error {
		return tasks.HandleProcessOutfitTask(ctx, t, db, awsService, encoder, segmenter, classifier, index)
	})
	mux.HandleFunc("index:purge", func(ctx context.Context, t *asynq.Task) error {
		return tasks.HandlePurgeIndexTask(ctx, t, awsService, index)
	})
	mux.HandleFunc("accounts:purge_deleted", func(ctx context.Context, t *asynq.Task) error {
		return tasks.HandlePurgeDeletedAccountsTask(ctx, t, db, awsService, index)
	})

	go runScheduler()
	if err := srv.Run(mux); err != nil {
		log.Fatal(err)
	}
}
