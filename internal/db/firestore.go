package db

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"pagebuilder-backend-go/internal/config"
)

// FirebaseClients bundles the clients created from one Firebase app.
type FirebaseClients struct {
	App       *firebase.App
	Firestore *firestore.Client
	Auth      *auth.Client
}

// ClientOptions returns the Google API credential options derived from config.
// An empty slice means Application Default Credentials.
func ClientOptions(appConfig *config.Config, logger *zap.Logger) ([]option.ClientOption, error) {
	switch {
	case appConfig.GoogleApplicationCredentials != "":
		if _, err := os.Stat(appConfig.GoogleApplicationCredentials); os.IsNotExist(err) {
			logger.Warn("Credentials file does not exist, falling back to ADC lookup inside the SDK",
				zap.String("path", appConfig.GoogleApplicationCredentials))
		}
		return []option.ClientOption{option.WithCredentialsFile(appConfig.GoogleApplicationCredentials)}, nil
	case appConfig.FirebaseServiceAccountJSONBase64 != "":
		decodedJSON, err := base64.StdEncoding.DecodeString(appConfig.FirebaseServiceAccountJSONBase64)
		if err != nil {
			return nil, fmt.Errorf("failed to decode FIREBASE_SERVICE_ACCOUNT_JSON_BASE64: %w", err)
		}
		return []option.ClientOption{option.WithCredentialsJSON(decodedJSON)}, nil
	default:
		logger.Info("Initializing Firebase using Application Default Credentials (ADC).")
		return nil, nil
	}
}

// InitFirebase initializes the Firebase Admin SDK and returns its clients.
// The Firestore client is only created when DOCUMENT_STORE=firestore.
func InitFirebase(ctx context.Context, appConfig *config.Config, logger *zap.Logger) (*FirebaseClients, error) {
	if appConfig == nil {
		return nil, fmt.Errorf("InitFirebase: appConfig cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts, err := ClientOptions(appConfig, logger)
	if err != nil {
		return nil, err
	}

	var firebaseAppConfig *firebase.Config
	if appConfig.FirebaseProjectID != "" {
		firebaseAppConfig = &firebase.Config{ProjectID: appConfig.FirebaseProjectID}
	}

	app, err := firebase.NewApp(ctx, firebaseAppConfig, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase.NewApp: %w", err)
	}

	authClient, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("app.Auth: %w", err)
	}

	var fsClient *firestore.Client
	if appConfig.DocumentStore == config.StoreFirestore {
		fsClient, err = app.Firestore(ctx)
		if err != nil {
			return nil, fmt.Errorf("app.Firestore: %w", err)
		}
	}

	logger.Info("Firebase Admin SDK initialized", zap.String("projectID", appConfig.FirebaseProjectID))
	return &FirebaseClients{App: app, Firestore: fsClient, Auth: authClient}, nil
}

// Close releases the Firestore client.
func (c *FirebaseClients) Close() error {
	if c == nil || c.Firestore == nil {
		return nil
	}
	return c.Firestore.Close()
}
