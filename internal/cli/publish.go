package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/videoflow/notification/internal/domain"
	"github.com/videoflow/notification/internal/kafka"
)

func newPublishCmd() *cobra.Command {
	var (
		ev      domain.VideoEvent
		ensure  bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a video event to the notification topic",
		Example: `  notifyctl publish --video-id 42 --status completed --email user@example.com
  notifyctl publish --video-id 42 --status failed --email user@example.com --ensure-topic`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if missing := ev.MissingFields(); len(missing) > 0 {
				return fmt.Errorf("missing required flags for: %s", strings.Join(missing, ", "))
			}
			if domain.ParseVideoStatus(ev.Status) == domain.StatusUnrecognized {
				log.Warn().Str("status", ev.Status).Msg("status is not recognized, the service will skip this event")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			producer, err := kafka.New(kafka.Config{
				Brokers:           cfg.Kafka.Brokers,
				Topic:             cfg.Kafka.Topic,
				DeadLetterTopic:   cfg.Kafka.DeadLetterTopic,
				Partitions:        cfg.Kafka.Partitions,
				ReplicationFactor: cfg.Kafka.ReplicationFactor,
			}, nil, nil)
			if err != nil {
				return err
			}
			defer producer.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			if ensure {
				if err := producer.EnsureSubscription(ctx); err != nil {
					return err
				}
			}
			if err := producer.Publish(ctx, ev); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "published %s event for video %s to %s\n", ev.Status, ev.VideoID, cfg.Kafka.Topic)
			return nil
		},
	}

	cmd.Flags().StringVar(&ev.VideoID, "video-id", "", "video identifier (message key)")
	cmd.Flags().StringVar(&ev.Status, "status", "", "processing, failed or completed")
	cmd.Flags().StringVar(&ev.Email, "email", "", "recipient address")
	cmd.Flags().BoolVar(&ensure, "ensure-topic", false, "create the topics first when missing")
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "give up after this long")
	return cmd
}
