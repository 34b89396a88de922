package discord

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/derfbot/pkg/audio"
	"github.com/MrWong99/derfbot/pkg/audio/opus"
)

// Compile-time interface assertion.
var _ audio.Connection = (*Connection)(nil)

// Connection wraps a discordgo.VoiceConnection. Incoming Opus packets are
// decoded per SSRC and handed to the sink under the speaker's user ID;
// outgoing clips are pre-encoded Opus frames fed to OpusSend.
//
// Connection is safe for concurrent use.
type Connection struct {
	vc   *discordgo.VoiceConnection
	sink audio.PacketSink

	ssrcMu   sync.RWMutex
	ssrcUser map[uint32]string

	playing atomic.Bool

	done      chan struct{}
	closeOnce sync.Once

	// disconnectVC and speaking default to the voice connection's methods and
	// are replaced in tests.
	disconnectVC func() error
	speaking     func(bool) error
}

func newConnection(vc *discordgo.VoiceConnection, sink audio.PacketSink) *Connection {
	c := &Connection{
		vc:           vc,
		sink:         sink,
		ssrcUser:     make(map[uint32]string),
		done:         make(chan struct{}),
		disconnectVC: vc.Disconnect,
		speaking:     vc.Speaking,
	}
	vc.AddHandler(c.handleSpeakingUpdate)
	go c.recvLoop()
	return c
}

// ChannelID returns the voice channel this connection joined.
func (c *Connection) ChannelID() string {
	c.vc.RLock()
	defer c.vc.RUnlock()
	return c.vc.ChannelID
}

// Ready reports whether discordgo considers the voice session usable.
func (c *Connection) Ready() bool {
	select {
	case <-c.done:
		return false
	default:
	}
	c.vc.RLock()
	defer c.vc.RUnlock()
	return c.vc.Ready
}

// Play sends frames in a background goroutine, bracketed by speaking
// notifications.
func (c *Connection) Play(frames [][]byte) error {
	if !c.Ready() {
		return audio.ErrNotReady
	}
	if !c.playing.CompareAndSwap(false, true) {
		return audio.ErrBusy
	}
	go c.sendFrames(frames)
	return nil
}

// IsPlaying reports whether a clip is still being sent.
func (c *Connection) IsPlaying() bool { return c.playing.Load() }

// Disconnect leaves the voice channel and stops the receive loop. Subsequent
// calls return nil.
func (c *Connection) Disconnect() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if c.disconnectVC != nil {
			err = c.disconnectVC()
		}
	})
	return err
}

// UserForSSRC returns the user ID announced for ssrc by a speaking update.
func (c *Connection) UserForSSRC(ssrc uint32) (string, bool) {
	c.ssrcMu.RLock()
	defer c.ssrcMu.RUnlock()
	id, ok := c.ssrcUser[ssrc]
	return id, ok
}

func (c *Connection) handleSpeakingUpdate(_ *discordgo.VoiceConnection, vs *discordgo.VoiceSpeakingUpdate) {
	if vs == nil || vs.UserID == "" {
		return
	}
	c.ssrcMu.Lock()
	c.ssrcUser[uint32(vs.SSRC)] = vs.UserID
	c.ssrcMu.Unlock()
}

// recvLoop decodes packets with one decoder per SSRC and forwards PCM to the
// sink. Audio of an SSRC without a known user is decoded but dropped, so
// every sink speaker is a user ID that OnVoiceLeave can remove.
func (c *Connection) recvLoop() {
	decoders := make(map[uint32]*opus.Decoder)
	for {
		select {
		case <-c.done:
			return
		case pkt, ok := <-c.vc.OpusRecv:
			if !ok {
				return
			}
			if pkt == nil || len(pkt.Opus) == 0 {
				continue
			}
			dec, exists := decoders[pkt.SSRC]
			if !exists {
				var err error
				dec, err = opus.NewDecoder()
				if err != nil {
					slog.Error("discord: failed to create opus decoder", "ssrc", pkt.SSRC, "err", err)
					continue
				}
				decoders[pkt.SSRC] = dec
			}
			pcm, err := dec.Decode(pkt.Opus)
			if err != nil {
				slog.Debug("discord: opus decode error", "ssrc", pkt.SSRC, "err", err)
				continue
			}
			user, known := c.UserForSSRC(pkt.SSRC)
			if !known {
				continue
			}
			c.sink.OnPacket(user, pcm)
		}
	}
}

func (c *Connection) sendFrames(frames [][]byte) {
	defer c.playing.Store(false)
	c.setSpeaking(true)
	defer c.setSpeaking(false)

	for _, f := range frames {
		select {
		case c.vc.OpusSend <- f:
		case <-c.done:
			return
		}
	}
}

func (c *Connection) setSpeaking(b bool) {
	if err := c.speaking(b); err != nil {
		slog.Warn("discord: speaking notification error", "speaking", b, "err", err)
	}
}
