package client

import (
	"time"

	"github.com/zeusync/wsclient/internal/core/observability/log"
	"github.com/zeusync/wsclient/internal/core/protocol"
)

// heartbeatLoop sends HeartbeatType every HeartbeatInterval over conn until
// stop is closed. With a HeartbeatTimeout set, a connection that has been
// silent for longer is treated as lost.
func (c *Client) heartbeatLoop(gen uint64, conn protocol.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if c.config.HeartbeatTimeout > 0 {
				c.mu.Lock()
				silence := time.Since(c.lastReceivedAt)
				c.mu.Unlock()

				if silence > c.config.HeartbeatTimeout {
					err := protocol.NewProtocolError(protocol.ErrorCodeHeartbeatTimeout, "no frames received", nil).
						WithContext("silence", silence.String())
					c.logger.Warn("Heartbeat timeout", log.Duration("silence", silence))
					c.handleConnectionLost(gen, conn, err)
					return
				}
			}

			msg, err := protocol.NewMessage(c.config.HeartbeatType, nil)
			if err != nil {
				return
			}
			if err = c.write(conn, msg); err == nil {
				c.counters.heartbeats.Add(1)
			}
		}
	}
}
