package config

import (
	"context"
	"errors"
	"fmt"
	"log"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// NewPubSubTopic returns the audit topic, creating it when missing.
// It uses Application Default Credentials unless PUBSUB_CREDENTIALS_JSON is provided.
func NewPubSubTopic(ctx context.Context, projectID, topic, credJSON string) (*pubsub.Client, *pubsub.Topic, error) {
	if projectID == "" {
		return nil, nil, errors.New("PUBSUB_PROJECT_ID/GOOGLE_CLOUD_PROJECT not set")
	}
	if topic == "" {
		return nil, nil, errors.New("PUBSUB_TOPIC is required")
	}

	var (
		c   *pubsub.Client
		err error
	)
	if credJSON != "" {
		c, err = pubsub.NewClient(ctx, projectID, option.WithCredentialsJSON([]byte(credJSON)))
	} else {
		// Uses Application Default Credentials (Cloud Run service account or GOOGLE_APPLICATION_CREDENTIALS).
		c, err = pubsub.NewClient(ctx, projectID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("init pubsub client: %w", err)
	}

	t := c.Topic(topic)
	ok, err := t.Exists(ctx)
	if err != nil {
		_ = c.Close()
		return nil, nil, err
	}
	if !ok {
		t, err = c.CreateTopic(ctx, topic)
		if err != nil {
			_ = c.Close()
			return nil, nil, fmt.Errorf("create topic %q: %w", topic, err)
		}
	}
	log.Printf("pubsub topic ready (project_id=%s topic=%s)", projectID, topic)
	return c, t, nil
}
