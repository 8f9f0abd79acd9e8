// Command reconcile repairs subscription records whose billing cycle or
// next billing date drifted from what the payment ledger proves. It is a
// dry run by default: every proposed change is logged with its before and
// after values, and nothing is written until -apply is passed.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/mihaimyh/gorebill/pkg/rebill"
	zerologadapter "github.com/mihaimyh/gorebill/pkg/rebill/logger/zerolog"
	firestorestorage "github.com/mihaimyh/gorebill/storage/firestore"
)

func main() {
	apply := flag.Bool("apply", false, "write repairs instead of dry-running")
	user := flag.String("user", "", "reconcile a single user instead of all recurring subscriptions")
	project := flag.String("project", os.Getenv("GOOGLE_CLOUD_PROJECT"), "GCP project ID")
	flag.Parse()

	_ = godotenv.Load()

	zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if *project == "" {
		zl.Fatal().Msg("project ID is required (-project or GOOGLE_CLOUD_PROJECT)")
	}

	ctx := context.Background()

	fsClient, err := firestore.NewClient(ctx, *project)
	if err != nil {
		zl.Fatal().Err(err).Msg("failed to create firestore client")
	}
	defer fsClient.Close()

	store, err := firestorestorage.New(fsClient, firestorestorage.Config{})
	if err != nil {
		zl.Fatal().Err(err).Msg("failed to create firestore storage")
	}

	reconciler := rebill.NewReconciler(store, nil, zerologadapter.NewLogger(zl))

	subs, err := loadSubscriptions(ctx, store, *user)
	if err != nil {
		zl.Fatal().Err(err).Msg("failed to load subscriptions")
	}

	mode := "dry-run"
	if *apply {
		mode = "apply"
	}
	zl.Info().Str("mode", mode).Int("subscriptions", len(subs)).Msg("reconcile starting")

	repaired, skipped := 0, 0
	for _, sub := range subs {
		changed, err := reconcileOne(ctx, zl, store, reconciler, sub, *apply)
		if err != nil {
			zl.Error().Err(err).Str("user_id", sub.UserID).Msg("reconcile failed")
			continue
		}
		if changed {
			repaired++
		} else {
			skipped++
		}
	}

	zl.Info().
		Str("mode", mode).
		Int("repaired", repaired).
		Int("unchanged", skipped).
		Msg("reconcile finished")
}

func loadSubscriptions(ctx context.Context, store *firestorestorage.Storage, user string) ([]*rebill.Subscription, error) {
	if user != "" {
		sub, err := store.Get(ctx, user)
		if err != nil {
			return nil, err
		}
		return []*rebill.Subscription{sub}, nil
	}
	return store.ListRecurring(ctx)
}

// reconcileOne compares a subscription against its ledger anchor and
// repairs billingCycle and nextBillingDate when they disagree. Users with
// no successful payment are left untouched.
func reconcileOne(ctx context.Context, zl zerolog.Logger, store rebill.SubscriptionStore, reconciler *rebill.Reconciler, sub *rebill.Subscription, apply bool) (bool, error) {
	anchor, err := reconciler.LatestAnchor(ctx, sub.UserID)
	if err != nil {
		return false, err
	}
	if anchor == nil {
		zl.Debug().Str("user_id", sub.UserID).Msg("no successful payment, skipping")
		return false, nil
	}

	patch := &rebill.SubscriptionPatch{}
	next := anchor.NextBilling()

	if sub.BillingCycle != anchor.Cycle {
		zl.Warn().
			Str("user_id", sub.UserID).
			Str("field", "billingCycle").
			Str("before", string(sub.BillingCycle)).
			Str("after", string(anchor.Cycle)).
			Msg("cycle drift detected")
		cycle := anchor.Cycle
		patch.BillingCycle = &cycle
	}

	if sub.NextBillingDate == nil || !sub.NextBillingDate.Equal(next) {
		before := "unset"
		if sub.NextBillingDate != nil {
			before = sub.NextBillingDate.Format(time.RFC3339)
		}
		zl.Warn().
			Str("user_id", sub.UserID).
			Str("field", "nextBillingDate").
			Str("before", before).
			Str("after", next.Format(time.RFC3339)).
			Str("anchor_order", anchor.OrderID).
			Msg("date drift detected")
		patch.NextBillingDate = &next
	}

	if patch.IsEmpty() {
		return false, nil
	}
	if !apply {
		return true, nil
	}
	if err := store.Save(ctx, sub.UserID, patch); err != nil {
		return false, err
	}
	zl.Info().Str("user_id", sub.UserID).Msg("repaired")
	return true, nil
}
