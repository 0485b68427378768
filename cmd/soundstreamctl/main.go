// Command soundstreamctl is a CLI demo client for the soundstream
// engine: it dials a server, negotiates a playback and/or record
// stream, and (with -audio) sends Opus-encoded microphone audio,
// captured via portaudio, to the playback stream while draining the
// record stream. Nothing is played out to a speaker.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gordonklaus/portaudio"
	"gopkg.in/hraban/opus.v2"

	"soundstream"
	"soundstream/internal/wstransport"
	"soundstream/internal/wtransport"
)

const (
	sampleRate  = 48000
	channels    = 1
	frameSize   = 960 // 20ms @ 48kHz
	opusBitrate = 32000
)

func main() {
	var (
		addr       = flag.String("server", "", "server address (host, host:port, or URL); required")
		useWS      = flag.Bool("ws", false, "use websocket transport instead of WebTransport")
		doPlayback = flag.Bool("playback", true, "connect a playback stream")
		doRecord   = flag.Bool("record", false, "connect a record stream")
		withAudio  = flag.Bool("audio", false, "pump real audio through portaudio+opus")
		verbose    = flag.Bool("v", false, "verbose stream-engine logging")
	)
	flag.Parse()

	soundstream.SetVerbose(*verbose)
	soundstream.LogStartupBanner()

	if strings.TrimSpace(*addr) == "" {
		fmt.Fprintln(os.Stderr, "soundstreamctl: -server is required")
		os.Exit(2)
	}
	normalized, err := normalizeServerAddr(*addr)
	if err != nil {
		log.Fatalf("soundstreamctl: %v", err)
	}

	pool := soundstream.NewDefaultMemPool()
	loop := soundstream.NewDefaultEventLoop()

	transport, err := dialTransport(normalized, *useWS, pool)
	if err != nil {
		log.Fatalf("soundstreamctl: dial: %v", err)
	}

	ctx := soundstream.NewContext(transport, pool, loop, 21)
	log.Printf("soundstreamctl: session %s", ctx.SessionID)

	spec := soundstream.SampleSpec{Format: soundstream.SampleS16LE, Rate: sampleRate, Channels: channels}
	cm := soundstream.ChannelMap{soundstream.ChannelMono}
	props := soundstream.PropList{"application.name": "soundstreamctl"}

	var wg sync.WaitGroup
	var playback, record *soundstream.Stream

	if *doPlayback {
		playback, err = soundstream.NewStream(ctx, soundstream.DirectionPlayback, spec, cm,
			soundstream.FlagAutoTimingUpdate|soundstream.FlagInterpolateTiming, props)
		if err != nil {
			log.Fatalf("soundstreamctl: new playback stream: %v", err)
		}
		playback.SetStateCallback(func(s *soundstream.Stream) {
			log.Printf("[soundstreamctl] playback state: %s", s.State())
		})
		if err := playback.ConnectPlayback(soundstream.BufferAttr{}); err != nil {
			log.Fatalf("soundstreamctl: connect playback: %v", err)
		}
	}

	if *doRecord {
		record, err = soundstream.NewStream(ctx, soundstream.DirectionRecord, spec, cm,
			soundstream.FlagAutoTimingUpdate|soundstream.FlagInterpolateTiming, props)
		if err != nil {
			log.Fatalf("soundstreamctl: new record stream: %v", err)
		}
		record.SetStateCallback(func(s *soundstream.Stream) {
			log.Printf("[soundstreamctl] record state: %s", s.State())
		})
		if err := record.ConnectRecord(soundstream.BufferAttr{}); err != nil {
			log.Fatalf("soundstreamctl: connect record: %v", err)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	if *withAudio {
		if err := portaudio.Initialize(); err != nil {
			log.Fatalf("soundstreamctl: portaudio init: %v", err)
		}
		defer portaudio.Terminate()

		stopCh := make(chan struct{})
		if playback != nil {
			wg.Add(1)
			go func() {
				defer wg.Done()
				playbackPump(playback, stopCh)
			}()
		}
		if record != nil {
			wg.Add(1)
			go func() {
				defer wg.Done()
				capturePump(record, stopCh)
			}()
		}

		<-sigCh
		close(stopCh)
		wg.Wait()
	} else {
		<-sigCh
	}

	if playback != nil {
		_ = playback.Disconnect()
	}
	if record != nil {
		_ = record.Disconnect()
	}
	log.Println("soundstreamctl: shutting down")
}

func dialTransport(addr string, useWS bool, pool soundstream.MemPool) (soundstream.Transport, error) {
	if useWS {
		wsAddr := strings.Replace(addr, "https://", "wss://", 1)
		return wstransport.Dial(wsAddr, pool)
	}
	return wtransport.Dial(context.Background(), addr, pool)
}

// capturePump drains the record stream: it peeks each available chunk,
// logs its size, and drops it. The data is not decoded or played. Kept
// deliberately simple: this is a demo entrypoint, not a production
// capture pipeline.
func capturePump(record *soundstream.Stream, stopCh <-chan struct{}) {
	for {
		select {
		case <-stopCh:
			return
		default:
		}
		data, err := record.Peek()
		if err != nil {
			time.Sleep(20 * time.Millisecond)
			continue
		}
		if len(data) == 0 {
			time.Sleep(20 * time.Millisecond)
			continue
		}
		log.Printf("[soundstreamctl] record: %d bytes available", len(data))
		if err := record.Drop(); err != nil {
			log.Printf("[soundstreamctl] drop: %v", err)
		}
	}
}

// playbackPump captures microphone audio via portaudio, encodes it
// with Opus, and writes it to the playback stream.
func playbackPump(playback *soundstream.Stream, stopCh <-chan struct{}) {
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppVoIP)
	if err != nil {
		log.Printf("[soundstreamctl] opus encoder: %v", err)
		return
	}
	enc.SetBitrate(opusBitrate)

	buf := make([]float32, frameSize)
	stream, err := portaudio.OpenDefaultStream(channels, 0, sampleRate, frameSize, buf)
	if err != nil {
		log.Printf("[soundstreamctl] open capture stream: %v", err)
		return
	}
	defer stream.Close()
	if err := stream.Start(); err != nil {
		log.Printf("[soundstreamctl] start capture stream: %v", err)
		return
	}
	defer stream.Stop()

	pcm := make([]int16, frameSize)
	opusBuf := make([]byte, 1275)

	for {
		select {
		case <-stopCh:
			return
		default:
		}
		if err := stream.Read(); err != nil {
			continue
		}
		for i, v := range buf {
			pcm[i] = int16(v * 32767)
		}
		n, err := enc.Encode(pcm, opusBuf)
		if err != nil {
			continue
		}
		frame := make([]byte, n)
		copy(frame, opusBuf[:n])
		if err := playback.Write(frame, nil, 0, soundstream.SeekRelative); err != nil {
			log.Printf("[soundstreamctl] write: %v", err)
		}
	}
}
