package loader

import (
	"fmt"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"

	"ragchat/internal/domain"
)

// infoKeys maps PDF Info dictionary entries to metadata keys.
var infoKeys = map[string]string{
	"Title":        "title",
	"Author":       "author",
	"Producer":     "producer",
	"Creator":      "creator",
	"CreationDate": "creationdate",
}

// loadPDF returns one document per page, pages without extractable text
// included with empty content.
func (l *Loader) loadPDF(path string) ([]domain.Document, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	info := documentInfo(r)
	total := r.NumPage()
	docs := make([]domain.Document, 0, total)

	for i := 1; i <= total; i++ {
		text := ""
		page := r.Page(i)
		if !page.V.IsNull() {
			text, err = pageText(page)
			if err != nil {
				l.log.Warn("failed to extract page text", zap.Int("page", i), zap.Error(err))
				text = ""
			}
		}

		md := map[string]any{
			"source":      path,
			"page":        i - 1,
			"total_pages": total,
		}
		for k, v := range info {
			md[k] = v
		}
		docs = append(docs, domain.Document{Content: text, Metadata: md})
	}

	l.log.Debug("loaded pdf", zap.String("path", path), zap.Int("pages", total))
	return docs, nil
}

func pageText(page pdf.Page) (string, error) {
	fonts := make(map[string]*pdf.Font)
	for _, name := range page.Fonts() {
		font := page.Font(name)
		fonts[name] = &font
	}
	return page.GetPlainText(fonts)
}

func documentInfo(r *pdf.Reader) map[string]any {
	info := r.Trailer().Key("Info")
	out := make(map[string]any, len(infoKeys))
	for key, name := range infoKeys {
		out[name] = info.Key(key).Text()
	}
	return out
}
