package whatsapp

import (
	"context"
	"fmt"
	"os"

	"go.mau.fi/whatsmeow"

	"github.com/sipeed/wabridge/pkg/message"
)

// attachment downloads media lazily, when the dispatcher decides to keep it.
type attachment struct {
	client *whatsmeow.Client
	media  whatsmeow.DownloadableMessage
}

func (a *attachment) DownloadTo(ctx context.Context, f *os.File) error {
	if a.client == nil {
		return fmt.Errorf("whatsapp client not initialized")
	}
	return a.client.DownloadToFile(ctx, a.media, f)
}

var _ message.Attachment = (*attachment)(nil)
