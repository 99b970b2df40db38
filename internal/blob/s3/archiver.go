package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/alanyoungcy/ideapool/internal/domain"
)

// receipt is the stored envelope around an archived payload.
type receipt struct {
	IdeaID  string    `json:"ideaId"`
	Kind    string    `json:"kind"`
	SavedAt time.Time `json:"savedAt"`
	Data    any       `json:"data"`
}

// Receipts implements domain.ReceiptArchive on top of a blob writer and
// reader. Receipts are stored as
//
//	receipts/<idea>/<yyyymmddThhmmss.000>-<kind>.json
//
// so a listing is in chronological order and nothing is ever overwritten.
type Receipts struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	prefix string
	now    func() time.Time
}

// NewReceipts creates a Receipts archive under prefix ("receipts" when empty).
func NewReceipts(writer domain.BlobWriter, reader domain.BlobReader, prefix string) *Receipts {
	if prefix == "" {
		prefix = "receipts"
	}
	return &Receipts{writer: writer, reader: reader, prefix: strings.Trim(prefix, "/"), now: time.Now}
}

func (r *Receipts) dir(ideaID string) string {
	return r.prefix + "/" + ideaID + "/"
}

// Save stores v as a receipt of kind for ideaID and returns its path.
func (r *Receipts) Save(ctx context.Context, ideaID, kind string, v any) (string, error) {
	if ideaID == "" || strings.ContainsAny(ideaID, "/\\") {
		return "", fmt.Errorf("s3blob: invalid idea id %q", ideaID)
	}
	now := r.now().UTC()
	buf, err := marshalReceipt(receipt{IdeaID: ideaID, Kind: kind, SavedAt: now, Data: v})
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal %s receipt: %w", kind, err)
	}

	key := r.dir(ideaID) + now.Format("20060102T150405.000") + "-" + kind + ".json"
	if err := r.writer.Put(ctx, key, bytes.NewReader(buf), "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: upload %s receipt: %w", kind, err)
	}
	return key, nil
}

// List returns the receipts of ideaID, oldest first.
func (r *Receipts) List(ctx context.Context, ideaID string) ([]domain.BlobInfo, error) {
	infos, err := r.reader.List(ctx, r.dir(ideaID))
	if err != nil {
		return nil, err
	}
	for i := range infos {
		infos[i].ContentType = "application/json"
	}
	return infos, nil
}

// Open returns the receipt named name (the last element of a listed path).
func (r *Receipts) Open(ctx context.Context, ideaID, name string) (io.ReadCloser, error) {
	if name != path.Base(name) || !strings.HasSuffix(name, ".json") {
		return nil, fmt.Errorf("s3blob: receipt %q: %w", name, domain.ErrNotFound)
	}
	return r.reader.Get(ctx, r.dir(ideaID)+name)
}

func marshalReceipt(rec receipt) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
