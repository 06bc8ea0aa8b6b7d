package services

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/hydroforecast/apiserver/internal/mq"
	"github.com/hydroforecast/apiserver/types"
)

// AlertPublisher publishes low-level alerts to a message broker channel.
// It satisfies Alerter; construct one only when a broker is configured.
type AlertPublisher struct {
	mq      *mq.MQ
	channel string
}

func NewAlertPublisher(broker *mq.MQ, channel string) *AlertPublisher {
	return &AlertPublisher{mq: broker, channel: channel}
}

// Notify publishes the alert as a JSON message.
func (p *AlertPublisher) Notify(ctx context.Context, alert types.LowLevelAlert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return err
	}
	attrs := map[string]string{
		"tank_id":  strconv.Itoa(alert.TankID),
		"owner_id": strconv.Itoa(alert.OwnerID),
	}
	_, err = p.mq.Publish(ctx, p.channel, data, attrs)
	return err
}
