package pipeline

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Config is the pipeline section of the configuration file.
type Config struct {
	Peers []Peer `mapstructure:"peers"`
	// Buffer is the queue length of each peer. Events published while a
	// peer's queue is full are dropped for that peer.
	Buffer int `mapstructure:"buffer"`
	// MaxElapsedTime bounds the retries of a single Connect or Pub.
	MaxElapsedTime time.Duration `mapstructure:"maxElapsedTime"`
}

// DefaultBuffer is used when Config.Buffer is zero.
const DefaultBuffer = 256

// DecodeConfig decodes a peer's config map into out, which must be a pointer
// to a struct with mapstructure tags. Duration strings such as "5s" are
// accepted for time.Duration fields.
func DecodeConfig(config map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(config); err != nil {
		return fmt.Errorf("decode connector config: %w", err)
	}
	return nil
}
