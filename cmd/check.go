package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"groupfm/cache"
	"groupfm/config"
	"groupfm/db"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check connectivity to MySQL and Redis",
	Long:  `Verify that the configured MySQL and Redis instances are reachable and answering.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()

		fmt.Printf("MySQL: %s:%s/%s\n", cfg.DBHost, cfg.DBPort, cfg.DBName)
		if err := db.ConnectDB(cfg); err != nil {
			log.Fatalf("MySQL connection failed: %v", err)
		}
		defer db.DB.Close()
		fmt.Println("MySQL connection OK")

		fmt.Printf("Redis: %s, DB %d\n", cfg.RedisAddr(), cfg.RedisDB)
		if err := cache.ConnectRedis(cfg); err != nil {
			log.Fatalf("Redis connection failed: %v", err)
		}
		defer cache.CloseRedis()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := cache.RedisClient.Ping(ctx).Err(); err != nil {
			log.Fatalf("Redis ping failed: %v", err)
		}
		fmt.Println("Redis connection OK")
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
