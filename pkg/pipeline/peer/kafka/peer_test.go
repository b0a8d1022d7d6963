package kafka

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/edgeflare/restless/pkg/pipeline"
	"github.com/edgeflare/restless/pkg/pipeline/cdc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToSaramaConfig(t *testing.T) {
	tests := []struct {
		name      string
		sasl      SASL
		mechanism sarama.SASLMechanism
		wantErr   string
	}{
		{name: "no sasl"},
		{name: "sha512", sasl: SASL{Enable: true, Username: "u", Password: "p", Algorithm: "sha512"}, mechanism: sarama.SASLTypeSCRAMSHA512},
		{name: "sha256", sasl: SASL{Enable: true, Username: "u", Password: "p", Algorithm: "sha256"}, mechanism: sarama.SASLTypeSCRAMSHA256},
		{name: "plain", sasl: SASL{Enable: true, Username: "u", Password: "p"}, mechanism: sarama.SASLTypePlaintext},
		{name: "unknown", sasl: SASL{Enable: true, Username: "u", Password: "p", Algorithm: "md5"}, wantErr: "invalid SASL algorithm"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Config{SASL: tt.sasl}
			c.setDefaults()
			conf, err := c.ToSaramaConfig()
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "restless", conf.ClientID)
			assert.Equal(t, tt.sasl.Enable, conf.Net.SASL.Enable)
			if tt.sasl.Enable {
				assert.Equal(t, tt.mechanism, conf.Net.SASL.Mechanism)
			}
			if tt.mechanism == sarama.SASLTypeSCRAMSHA512 {
				assert.IsType(t, &XDGSCRAMClient{}, conf.Net.SASL.SCRAMClientGeneratorFunc())
			}
		})
	}

	c := Config{Version: "not-a-version"}
	_, err := c.ToSaramaConfig()
	assert.ErrorContains(t, err, "error parsing Kafka version")

	c = Config{TLS: TLS{Enable: true, CAFile: "/nonexistent/ca.pem"}}
	c.setDefaults()
	_, err = c.ToSaramaConfig()
	assert.ErrorContains(t, err, "read CA file")
}

func TestXDGSCRAMClient(t *testing.T) {
	x := &XDGSCRAMClient{HashGeneratorFcn: SHA256}
	require.NoError(t, x.Begin("alice", "secret", ""))
	first, err := x.Step("")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(first, "n,,n=alice,r="), first)
	assert.False(t, x.Done())

	_, err = x.Step("not a server-first message")
	assert.Error(t, err)
}

func TestPeerKafkaPub(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	p := &PeerKafka{}
	assert.ErrorIs(t, p.Pub(context.Background(), cdc.Event{}), pipeline.ErrNotConnected)

	cfg := Config{}
	cfg.setDefaults()
	p.init(cfg, producer, nil)

	src := cdc.NewSourceBuilder("restless", "person").WithSchema("public").WithTable("person").Build()
	event := cdc.NewEventBuilder().
		WithSource(src).
		WithOperation(cdc.OpCreate).
		WithAfter(map[string]any{"id": 6, "name": "Ann"}).
		WithTransaction(&cdc.Transaction{ID: "tx-1"}).
		Build()

	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		assert.Equal(t, "restless.public.person.c", msg.Topic)
		key, err := msg.Key.Encode()
		require.NoError(t, err)
		assert.Equal(t, "6", string(key))
		value, err := msg.Value.Encode()
		require.NoError(t, err)
		var got cdc.Event
		require.NoError(t, json.Unmarshal(value, &got))
		assert.Equal(t, cdc.OpCreate, got.Payload.Op)
		assert.Contains(t, msg.Headers, sarama.RecordHeader{Key: []byte("tx"), Value: []byte("tx-1")})
		return nil
	})
	require.NoError(t, p.Pub(context.Background(), event))

	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	assert.ErrorIs(t, p.Pub(context.Background(), event), sarama.ErrOutOfBrokers)

	require.NoError(t, p.Disconnect())
}
