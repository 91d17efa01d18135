package controllers

import (
	"context"
	"log"
	"net/http"
	"os"

	"closetapi/models"
	"closetapi/search"
	"closetapi/services"
	"closetapi/vectorindex"

	firebase "firebase.google.com/go/v4"
	"github.com/go-playground/validator"
	"github.com/hibiken/asynq"
	echojwt "github.com/labstack/echo-jwt"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"gorm.io/gorm"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i interface{}) error {
	if err := cv.validator.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

func SetupServer(
	db *gorm.DB,
	googleService services.GoogleServiceProvider,
	awsService services.AWSServiceProvider,
	firebaseApp *firebase.App,
	asynqClient *asynq.Client,
	urlCache services.URLCacheServiceProvider,
	index vectorindex.Index,
	engine *search.Engine,
) *echo.Echo {

	err := awsService.InitPresignClient(context.Background())
	if err != nil {
		log.Fatal("Failed to initialize AWS provider: S3")
	}

	e := echo.New()
	v := validator.New()
	v.RegisterValidation("platform", models.ValidatePlatform)
	e.Validator = &CustomValidator{validator: v}
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set("__db", db)
			c.Set("__asynqclient", asynqClient)
			return next(c)
		}
	})

	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	})

	authGroup := e.Group("auth")
	authController := AuthController{Google: googleService, FirebaseApp: firebaseApp, AWSService: awsService}
	authController.ProfileRoutes(authGroup)

	closetGroup := e.Group("closet", echojwt.JWT([]byte(os.Getenv("JWT_SECRET"))))
	closetGroup.Use(UserMiddleware)

	wardrobeController := WardrobeController{AWSService: awsService, URLCache: urlCache}
	wardrobeController.WardrobeRoutes(closetGroup)

	outfitsController := OutfitsController{AWSService: awsService, URLCache: urlCache}
	outfitGroup := closetGroup.Group("/outfits")
	outfitsController.OutfitRoutes(outfitGroup)

	recommendController := RecommendController{
		Engine:     engine,
		Index:      index,
		AWSService: awsService,
		URLCache:   urlCache,
	}
	recommendGroup := e.Group("recommend", echojwt.JWT([]byte(os.Getenv("JWT_SECRET"))))
	recommendGroup.Use(UserMiddleware)
	recommendController.RecommendRoutes(recommendGroup)

	savedController := SavedOutfitsController{}
	savedGroup := closetGroup.Group("/saved-outfits")
	savedController.SavedOutfitRoutes(savedGroup)

	return e
}
