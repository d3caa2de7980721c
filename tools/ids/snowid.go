package ids

import (
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// generator is a snowflake: 41 bits ms since epoch | 10 bits node | 12 bits seq.
type generator struct {
	mu       sync.Mutex
	epochMS  int64
	nodeID   int64 // 0~1023
	seq      int64 // 0~4095
	lastTSMS int64
	now      func() time.Time
}

var (
	defaultGen *generator
	once       sync.Once
)

func initDefault() {
	once.Do(func() {
		defaultGen = &generator{
			epochMS: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli(),
			nodeID:  1,
			now:     time.Now,
		}
	})
}

// SetNodeID 设置 nodeID（0~1023），越界回退为 1
func SetNodeID(nodeID int64) {
	initDefault()
	if nodeID < 0 || nodeID > 1023 {
		nodeID = 1
	}
	defaultGen.mu.Lock()
	defaultGen.nodeID = nodeID
	defaultGen.mu.Unlock()
}

// Generate returns a process-unique, time-ordered id.
func Generate() int64 {
	initDefault()
	return defaultGen.next()
}

func GenerateString() string {
	return strconv.FormatInt(Generate(), 10)
}

// ActionID ids offline actions: "action_<snowflake>".
func ActionID() string {
	return "action_" + GenerateString()
}

// DeviceID is generated once per install and persisted by the caller.
func DeviceID() string {
	return uuid.NewString()
}

// NodeFromDevice folds a device id into a node id so two installs sharing a store
// are unlikely to collide.
func NodeFromDevice(deviceID string) int64 {
	u, err := uuid.Parse(deviceID)
	if err != nil {
		var h int64
		for _, c := range deviceID {
			h = (h*31 + int64(c)) & 0x3FF
		}
		return h
	}
	return (int64(u[14])<<8 | int64(u[15])) & 0x3FF
}

func (g *generator) next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	for {
		now := g.now().UnixMilli()
		if now < g.lastTSMS {
			// 时钟回拨，等待
			time.Sleep(time.Duration(g.lastTSMS-now) * time.Millisecond)
			continue
		}
		if now == g.lastTSMS {
			g.seq = (g.seq + 1) & 0xFFF
			if g.seq == 0 {
				// 序列溢出，等到下一毫秒
				for now <= g.lastTSMS {
					now = g.now().UnixMilli()
				}
			}
		} else {
			g.seq = 0
		}
		g.lastTSMS = now

		ts := (now - g.epochMS) & ((1 << 41) - 1)
		return (ts << 22) | (g.nodeID << 12) | g.seq
	}
}
