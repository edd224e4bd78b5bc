package statshooks

import (
	"github.com/relaycore/mediacore/internal/exporter"
	"github.com/relaycore/mediacore/internal/rpcpool"
)

// FlattenExporter adapts an *exporter.Exporter into a Source.
func FlattenExporter(e *exporter.Exporter) Source {
	return func() map[string]int64 {
		st := e.Stats()
		return map[string]int64{
			"video_frames_sent":    st.VideoFramesSent,
			"audio_frames_sent":    st.AudioFramesSent,
			"video_frames_dropped": st.VideoFramesDropped,
			"audio_frames_dropped": st.AudioFramesDropped,
			"scheduled_ms":         st.ScheduledMs,
		}
	}
}

// FlattenPool adapts an *rpcpool.Pool into a Source.
func FlattenPool(p *rpcpool.Pool) Source {
	return func() map[string]int64 {
		st := p.Stats()
		return map[string]int64{
			"queue_size":   int64(st.QueueSize),
			"busy_workers": int64(st.BusyWorkers),
			"workers":      int64(st.Workers),
		}
	}
}
