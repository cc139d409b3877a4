package notifications

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	ws "ridelink/driver-portal/driver-portal-backend/internal/notifications/websocket"
)

// SNSPublisher is the slice of the SNS client the service uses
type SNSPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Service pushes notifications to drivers (mobile push via SNS) and
// reviewers (in-app via websocket). Delivery is best-effort: every
// failure is logged and swallowed, never returned to the caller.
type Service struct {
	sns      SNSPublisher
	topicARN string
	ws       *ws.Manager
	logger   *zap.Logger
}

func NewService(publisher SNSPublisher, topicARN string, wsManager *ws.Manager, logger *zap.Logger) *Service {
	return &Service{
		sns:      publisher,
		topicARN: topicARN,
		ws:       wsManager,
		logger:   logger,
	}
}

// NotifyDriver publishes a push notification for the driver's devices.
// Fire-and-forget: the publish happens in the background and the caller
// never observes its outcome.
func (s *Service) NotifyDriver(ctx context.Context, driverID uuid.UUID, event string, data map[string]interface{}) {
	if s.sns == nil || s.topicARN == "" {
		s.logger.Debug("push channel not configured, dropping driver notification",
			zap.String("driver_id", driverID.String()), zap.String("event", event))
		return
	}

	go func() {
		pubCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		body, err := json.Marshal(map[string]interface{}{
			"driver_id": driverID.String(),
			"event":     event,
			"data":      data,
			"sent_at":   time.Now().UTC().Format(time.RFC3339),
		})
		if err != nil {
			s.logger.Error("failed to encode driver notification", zap.Error(err))
			return
		}

		_, err = s.sns.Publish(pubCtx, &sns.PublishInput{
			TopicArn: aws.String(s.topicARN),
			Message:  aws.String(string(body)),
			MessageAttributes: map[string]types.MessageAttributeValue{
				"driver_id": {
					DataType:    aws.String("String"),
					StringValue: aws.String(driverID.String()),
				},
				"event": {
					DataType:    aws.String("String"),
					StringValue: aws.String(event),
				},
			},
		})
		if err != nil {
			s.logger.Warn("driver notification publish failed",
				zap.String("driver_id", driverID.String()),
				zap.String("event", event),
				zap.Error(err))
			return
		}

		s.logger.Debug("driver notification published",
			zap.String("driver_id", driverID.String()),
			zap.String("event", event))
	}()
}

// NotifyReviewer pushes an in-app alert to the reviewer's open
// connections. A reviewer with no open connection simply misses the
// alert; their queue is visible on next load.
func (s *Service) NotifyReviewer(ctx context.Context, reviewerID uuid.UUID, event string, data map[string]interface{}) {
	if s.ws == nil {
		return
	}

	err := s.ws.SendToUser(reviewerID.String(), ws.Message{
		Type:      event,
		Data:      data,
		Timestamp: time.Now(),
	})
	if err != nil {
		s.logger.Debug("reviewer not connected",
			zap.String("reviewer_id", reviewerID.String()),
			zap.String("event", event))
	}
}
