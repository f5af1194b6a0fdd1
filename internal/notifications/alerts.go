package notifications

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/RebootGod/catalogsync/internal/bulksync"
)

// DefaultAlertCooldown limits how often the same entity type can alert.
const DefaultAlertCooldown = 5 * time.Minute

// Alerter reports failed sync runs. Every failure is logged; a webhook is
// posted when a channel URL is configured and the entity type is not in
// its cooldown window.
type Alerter struct {
	sender   *WebhookSender
	channel  Channel
	cooldown time.Duration

	mu   sync.Mutex
	last map[bulksync.EntityType]time.Time
	now  func() time.Time
}

func NewAlerter(sender *WebhookSender, channel Channel, cooldown time.Duration) *Alerter {
	if sender == nil {
		sender = NewWebhookSender()
	}
	return &Alerter{
		sender:   sender,
		channel:  channel,
		cooldown: cooldown,
		last:     make(map[bulksync.EntityType]time.Time),
		now:      time.Now,
	}
}

// SyncFailed matches bulksync.FailureHook.
func (a *Alerter) SyncFailed(ctx context.Context, req bulksync.Request, err error) {
	log.Printf("Alert: %s sync %s failed (%d ids): %v", req.EntityType, req.ProgressKey, len(req.EntityIDs), err)
	if a.channel.URL == "" || !a.allow(req.EntityType) {
		return
	}

	title := fmt.Sprintf("catalogsync: %s sync failed", req.EntityType)
	message := fmt.Sprintf("Progress key %s (%d ids) failed: %v", req.ProgressKey, len(req.EntityIDs), err)
	if sendErr := a.sender.Send(ctx, a.channel, title, message); sendErr != nil {
		log.Printf("Alert: failed to send webhook for %s: %v", req.ProgressKey, sendErr)
		return
	}
	log.Printf("Alert: sent %s webhook for %s", a.channel.Type, req.ProgressKey)
}

func (a *Alerter) allow(entityType bulksync.EntityType) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	if last, ok := a.last[entityType]; ok && now.Sub(last) < a.cooldown {
		return false
	}
	a.last[entityType] = now
	return true
}
