package push

import (
	"context"
	"encoding/json"
	"errors"
	"storefront/internal/pkg/config"

	"github.com/aliyun/alibaba-cloud-sdk-go/sdk/requests"
	"github.com/aliyun/alibaba-cloud-sdk-go/services/push"
)

var ErrNotConfigured = errors.New("push config is missing")

// Message 推送给单个账号的通知
type Message struct {
	AccountID string
	Title     string
	Body      string
	Extras    map[string]string
}

// Notifier 推送通道
type Notifier interface {
	PushToAccount(ctx context.Context, msg Message) error
}

type AliyunPushService struct {
	client *push.Client
	appKey int64
}

func NewAliyunPushService(cfg config.PushConfig) (*AliyunPushService, error) {
	if cfg.AccessKeyID == "" || cfg.AppKey == 0 {
		return nil, ErrNotConfigured
	}

	client, err := push.NewClientWithAccessKey(cfg.RegionID, cfg.AccessKeyID, cfg.AccessKeySecret)
	if err != nil {
		return nil, err
	}

	return &AliyunPushService{client: client, appKey: cfg.AppKey}, nil
}

func (s *AliyunPushService) PushToAccount(ctx context.Context, msg Message) error {
	request := push.CreatePushRequest()
	request.AppKey = requests.NewInteger(int(s.appKey))
	request.Target = "ACCOUNT"
	request.TargetValue = msg.AccountID
	request.Title = msg.Title
	request.Body = msg.Body
	request.DeviceType = "ALL"
	request.PushType = "NOTICE"

	if len(msg.Extras) > 0 {
		extJSON, err := json.Marshal(msg.Extras)
		if err != nil {
			return err
		}
		request.AndroidExtParameters = string(extJSON)
		request.IOSExtParameters = string(extJSON)
	}

	// SDK 不支持 context，超时由 worker 的任务超时兜底
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.client.Push(request)
	return err
}

// NopNotifier 未配置推送时使用
type NopNotifier struct{}

func (NopNotifier) PushToAccount(context.Context, Message) error { return nil }
