package main

import (
	"math/rand"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	started := time.Now()
	r.GET("/health", func(c *gin.Context) {
		start := time.Now()
		jitter := time.Duration(rand.Intn(20)) * time.Millisecond
		time.Sleep(jitter)

		c.Header("Response-Time", time.Since(start).Round(time.Millisecond).String())
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"service":   "sample-app",
			"timestamp": float64(time.Now().UnixNano()) / float64(time.Second),
			"uptime":    time.Since(started).Seconds(),
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "3000"
	}
	log.WithField("port", port).Info("Upstream demo service listening")
	if err := http.ListenAndServe(":"+port, r); err != nil {
		log.WithError(err).Fatal("Upstream demo service stopped")
	}
}
