package app

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wakeline/internal/config"
	"wakeline/internal/logs"
	"wakeline/internal/outcome"
	"wakeline/internal/push"
	"wakeline/internal/registry"
	"wakeline/pkg/models"
)

func testConfig() *config.Config {
	return &config.Config{
		RedisPrefix:       "wl:",
		ExpoPushURL:       "https://exp.host/--/api/v2/push/send",
		PushRatePerSecond: 10,
		PushTimeout:       time.Second,
		CallerDisplayName: "Accountability Check",
		RelayChannelID:    "accountability-calls",
		RegistryRetention: time.Hour,
		LedgerRetention:   48 * time.Hour,
		ContentCacheTTL:   time.Minute,
	}
}

func TestNewTransportChannels(t *testing.T) {
	tr := NewTransport(context.Background(), testConfig(), logs.Discard())
	assert.Equal(t, map[push.Channel]bool{
		push.ChannelWake: false,
		push.ChannelExpo: true,
		push.ChannelFCM:  false,
	}, tr.Channels())

	res := tr.Dispatch(context.Background(), models.PushToken{
		DeviceToken: strings.Repeat("ab", 32), Platform: models.PlatformIOS, IsWakeChannel: true,
	}, models.WakePayload{CallUUID: "c1"})
	assert.False(t, res.Delivered)
	assert.Equal(t, push.FailureConfig, res.Failure)
	assert.Contains(t, res.Reason, "IOS_VOIP_KEY_ID")
}

func TestWakeCredentials(t *testing.T) {
	cfg := testConfig()
	cfg.IOSVoipKeyID = "KEY"
	cfg.IOSVoipTeamID = "TEAM"
	cfg.IOSVoipTopic = "com.example.app.voip"
	cfg.APNsProduction = true

	creds := WakeCredentials(cfg)
	assert.Equal(t, []string{"IOS_VOIP_AUTH_KEY"}, creds.Missing())
	assert.True(t, creds.Production)
}

func TestStoresFollowRedisAvailability(t *testing.T) {
	a := &App{Config: testConfig(), Log: logs.Discard()}
	assert.IsType(t, &registry.MemoryStore{}, a.callStore())
	assert.IsType(t, &registry.MemoryLedger{}, a.ledger())

	mr := miniredis.RunT(t)
	rdb, err := NewRedis(context.Background(), &config.Config{RedisURL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	defer rdb.Close()

	a.Redis = rdb
	assert.IsType(t, &registry.RedisStore{}, a.callStore())
	assert.IsType(t, &registry.RedisLedger{}, a.ledger())
}

func TestNewRedisRejectsBadURL(t *testing.T) {
	_, err := NewRedis(context.Background(), &config.Config{RedisURL: "not a url"})
	assert.Error(t, err)
}

func TestContentGeneratorCachesInRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb, err := NewRedis(context.Background(), &config.Config{RedisURL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	defer rdb.Close()

	a := &App{Config: testConfig(), Log: logs.Discard(), Redis: rdb}
	gen := a.contentGenerator()

	c, err := gen.Generate(context.Background(), "u1", models.CallTypeDailyReckoning, "call-1")
	require.NoError(t, err)
	assert.NotEmpty(t, c.Prompts)
	assert.True(t, mr.Exists("wl:content:call-1"))
}

func TestOutcomeSinkWithoutEmail(t *testing.T) {
	a := &App{Config: testConfig(), Log: logs.Discard()}
	sink, ok := a.outcomeSink().(outcome.Fanout)
	require.True(t, ok)
	assert.Len(t, sink, 2)

	a.Config.OutcomeAlertEmail = "ops@example.com"
	sink = a.outcomeSink().(outcome.Fanout)
	assert.Len(t, sink, 2, "alerts stay off without SMTP credentials")

	a.Config.SMTPUsername = "user"
	a.Config.SMTPPassword = "pass"
	sink = a.outcomeSink().(outcome.Fanout)
	assert.Len(t, sink, 3)
}
