package misc

import (
	_ "embed"
	"encoding/csv"
	"fmt"
	"io"
	"math/rand"
	"strings"

	log "github.com/sirupsen/logrus"
)

//go:embed quotes.csv
var embeddedQuotes string

type QuotesManager struct {
	Quotes       []*Quote
	GenresQuotes map[string][]*Quote
}

// NewEmbeddedQuotesManager loads the quotes shipped with the binary.
func NewEmbeddedQuotesManager() (*QuotesManager, error) {
	return NewQuoteManager(csv.NewReader(strings.NewReader(embeddedQuotes)))
}

func NewQuoteManager(quotesCsvReader *csv.Reader) (*QuotesManager, error) {
	qm := &QuotesManager{}
	qm.GenresQuotes = make(map[string][]*Quote)

	quotesCsvReader.Comma = ';'
	quotesCsvReader.LazyQuotes = true
	for {
		record, err := quotesCsvReader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		if len(record) != 3 {
			return nil, fmt.Errorf("record [%s] does not have 3 elements", record)
		}

		// TEXT;AUTHOR;GENRE
		quote := NewQuote(record[0], record[1], record[2])
		if quote.Text == "" {
			return nil, fmt.Errorf("record [%s] has no quote text", record)
		}
		qm.Quotes = append(qm.Quotes, quote)
		qm.GenresQuotes[quote.Genre] = append(qm.GenresQuotes[quote.Genre], quote)
	}

	if len(qm.Quotes) == 0 {
		return nil, fmt.Errorf("no quotes found")
	}

	log.Debugf("quotes CSV read %d quotes", len(qm.Quotes))

	return qm, nil
}

func (qm *QuotesManager) RandomQuote() *Quote {
	return qm.Quotes[rand.Intn(len(qm.Quotes))]
}

// RandomQuoteOfGenre returns false when no quote has the genre.
func (qm *QuotesManager) RandomQuoteOfGenre(genre string) (*Quote, bool) {
	quotes := qm.GenresQuotes[strings.ToLower(strings.TrimSpace(genre))]
	if len(quotes) == 0 {
		return nil, false
	}
	return quotes[rand.Intn(len(quotes))], true
}
