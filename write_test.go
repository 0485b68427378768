package soundstream

import "testing"

// TestCreditConservation checks requestedBytes' = max(0, requestedBytes
// - len) holds after every Write, including when a write exceeds the
// outstanding credit.
func TestCreditConservation(t *testing.T) {
	cases := []struct {
		initial int
		writeN  int
		want    int
	}{
		{initial: 4096, writeN: 1000, want: 3096},
		{initial: 500, writeN: 500, want: 0},
		{initial: 200, writeN: 500, want: 0}, // overdraw clamps at zero
		{initial: 0, writeN: 100, want: 0},
	}

	for i, c := range cases {
		ctx, _, _ := newTestContext(13)
		s := newReadyStream(ctx, DirectionPlayback)
		s.requestedBytes = c.initial

		if err := s.Write(make([]byte, c.writeN), nil, 0, SeekRelative); err != nil {
			t.Fatalf("case %d: Write: %v", i, err)
		}

		got, err := s.WritableSize()
		if err != nil {
			t.Fatalf("case %d: WritableSize: %v", i, err)
		}
		if got != c.want {
			t.Errorf("case %d: requestedBytes = %d, want %d", i, got, c.want)
		}
	}
}

// TestChunkingSplitsAtMaxBlockSize checks the chunking property: a
// write larger than the pool's max block size is split into
// ceil(len/max_block) payloads whose lengths sum to len, with only the
// first chunk carrying the caller's seek/offset and the rest relative
// from zero.
func TestChunkingSplitsAtMaxBlockSize(t *testing.T) {
	ctx, transport, pool := newTestContext(13)
	pool.maxBlockSize = 300
	s := newReadyStream(ctx, DirectionPlayback)

	data := make([]byte, 1000)
	for i := range data {
		data[i] = byte(i)
	}

	if err := s.Write(data, nil, 5000, SeekAbsolute); err != nil {
		t.Fatalf("Write: %v", err)
	}

	wantChunks := 4 // ceil(1000/300)
	if len(transport.payloads) != wantChunks {
		t.Fatalf("sent %d payloads, want %d", len(transport.payloads), wantChunks)
	}

	var total int
	var reassembled []byte
	for i, p := range transport.payloads {
		total += len(p.data)
		reassembled = append(reassembled, p.data...)
		if i == 0 {
			if p.offset != 5000 || p.seek != SeekAbsolute {
				t.Errorf("first payload offset/seek = %d/%v, want 5000/absolute", p.offset, p.seek)
			}
		} else {
			if p.offset != 0 || p.seek != SeekRelative {
				t.Errorf("payload %d offset/seek = %d/%v, want 0/relative", i, p.offset, p.seek)
			}
		}
	}
	if total != len(data) {
		t.Fatalf("total bytes sent = %d, want %d", total, len(data))
	}
	for i := range data {
		if reassembled[i] != data[i] {
			t.Fatalf("byte %d corrupted in transit: got %d, want %d", i, reassembled[i], data[i])
		}
	}
}

// TestChunkingSingleChunkBelowMax checks the degenerate case of the
// chunking property: data shorter than the pool's max block size
// produces exactly one payload.
func TestChunkingSingleChunkBelowMax(t *testing.T) {
	ctx, transport, pool := newTestContext(13)
	pool.maxBlockSize = 4096
	s := newReadyStream(ctx, DirectionPlayback)

	if err := s.Write(make([]byte, 200), nil, 0, SeekRelative); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(transport.payloads) != 1 {
		t.Fatalf("sent %d payloads, want 1", len(transport.payloads))
	}
	if len(transport.payloads[0].data) != 200 {
		t.Fatalf("payload length = %d, want 200", len(transport.payloads[0].data))
	}
}
