// Package firestore provides a Firestore implementation of the
// payment.SubscriptionStore interface backed by a users collection.
package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mihaimyh/paysync/pkg/payment"
)

// ErrUserNotFound is returned when the users collection has no document for the user
var ErrUserNotFound = errors.New("user not found")

// Storage implements payment.SubscriptionStore using Google Cloud Firestore
type Storage struct {
	client          *firestore.Client
	usersCollection string
	tierField       string
}

// Config holds Firestore storage configuration
type Config struct {
	// UsersCollection is the Firestore collection holding user documents
	// Default: "users"
	UsersCollection string

	// TierField is the document field storing the subscription tier
	// Default: "subscriptionTier"
	TierField string
}

// New creates a new Firestore storage adapter
func New(client *firestore.Client, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}

	// Set defaults
	if config.UsersCollection == "" {
		config.UsersCollection = "users"
	}
	if config.TierField == "" {
		config.TierField = "subscriptionTier"
	}

	return &Storage{
		client:          client,
		usersCollection: config.UsersCollection,
		tierField:       config.TierField,
	}, nil
}

// SetSubscription implements payment.SubscriptionStore.
// The user document must already exist; only the tier and updatedAt fields change.
func (s *Storage) SetSubscription(ctx context.Context, userID string, tier payment.Tier) error {
	if userID == "" {
		return payment.Fatal("set_subscription", payment.ErrInvalidUser)
	}
	doc := s.client.Collection(s.usersCollection).Doc(userID)
	_, err := doc.Update(ctx, []firestore.Update{
		{Path: s.tierField, Value: string(tier)},
		{Path: "updatedAt", Value: firestore.ServerTimestamp},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return payment.Fatal("set_subscription", fmt.Errorf("%w: %s", ErrUserNotFound, userID))
		}
		return classify("set_subscription", err)
	}
	return nil
}

// Subscription returns the stored tier for userID
func (s *Storage) Subscription(ctx context.Context, userID string) (payment.Tier, error) {
	snap, err := s.client.Collection(s.usersCollection).Doc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", ErrUserNotFound
		}
		return "", classify("get_subscription", err)
	}
	if !snap.Exists() {
		return "", ErrUserNotFound
	}
	tier, _ := snap.Data()[s.tierField].(string)
	if tier == "" {
		return payment.TierFree, nil
	}
	return payment.Tier(tier), nil
}

// classify maps gRPC status codes onto payment store errors.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return payment.ClassifyNetError(op, err)
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return payment.Transient(op, err)
	default:
		return payment.Fatal(op, err)
	}
}
