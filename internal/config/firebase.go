package config

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"
)

// NewFirebaseApp initializes the Firebase app shared by the push gateway and
// the Firestore ledger. It returns nil, nil when Firebase is not configured.
func NewFirebaseApp(ctx context.Context, cfg *Config) (*firebase.App, error) {
	if !cfg.FirebaseEnabled() {
		return nil, nil
	}

	var opts []option.ClientOption
	if cfg.FirebaseCredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.FirebaseCredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.FirebaseProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("create firebase app: %w", err)
	}
	return app, nil
}
