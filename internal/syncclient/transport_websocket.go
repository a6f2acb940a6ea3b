package syncclient

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"
)

// BinaryMessage is the frame type carrying protocol envelopes; anything
// else read off a connection is ignored, per SPEC_FULL.md §4.6.
const BinaryMessage = websocket.BinaryMessage

// DialWebsocket is the default Dialer. *websocket.Conn satisfies
// Transport without adaptation.
func DialWebsocket(ctx context.Context, url string) (Transport, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("syncclient: ws dial %s: %w", url, err)
	}
	return conn, nil
}
