package notificationservice

import (
	"context"

	"github.com/joho/godotenv"

	service "tableside/internal/app/notificationservice"
	"tableside/internal/shared/config"
	"tableside/internal/shared/logger"
	"tableside/internal/shared/rabbitmq"
)

// Run wires the notification subscriber and blocks until ctx is cancelled.
func Run(ctx context.Context, storeID, tableID int64) error {
	log := logger.NewLogger("notification-subscriber")

	_ = godotenv.Load()

	cfg, err := config.LoadFromFile("config/config.yaml")
	if err != nil {
		log.Error(ctx, "config_load_failed", "Failed to load configuration", err)
		return err
	}

	rmq, err := rabbitmq.Connect(ctx, cfg, log)
	if err != nil {
		log.Error(ctx, "rabbitmq_connection_failed", "Failed to connect to RabbitMQ", err)
		return err
	}
	defer rmq.Close()

	log.Info(ctx, "service_started", "Notification subscriber started",
		map[string]any{"store_id": storeID, "table_id": tableID})

	service.ConsumeForever(ctx, rmq, service.Options{StoreID: storeID, TableID: tableID}, log)
	return nil
}
