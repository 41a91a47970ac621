package loadsim

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/sfarrukhm/sentiment-mlops/internal/pkg/errors"
)

// defaultCorpus is a set of short movie reviews of mixed polarity.
var defaultCorpus = []string{
	"An absolute masterpiece. Every frame felt alive and meaningful.",
	"Pretty boring, I fell asleep halfway through.",
	"The acting was strong, but the story was slow and predictable.",
	"A surprisingly emotional journey. I didn't expect to cry!",
	"Terrible script. Not even the great cast could save it.",
	"Visually stunning, with music that fits perfectly into every scene.",
	"One of the worst films I've seen in years. No plot, no effort.",
	"Short, sweet, and hilarious. Perfect for a weekend watch.",
	"The movie tried too hard to be deep, but ended up being confusing.",
	"Loved it! The chemistry between the leads was amazing.",
	"It's okay. Not great, not terrible. Just average entertainment.",
	"Beautiful cinematography but zero emotional connection.",
	"A complete mess from start to finish. I wanted to leave the theater.",
	"Unexpectedly good! I went in with low expectations and was blown away.",
	"Poorly edited and badly paced. Felt three hours long.",
	"Heartwarming and funny. Reminded me of the classic comedies from the 90s.",
	"Good ideas, but the execution was flat and lifeless.",
	"The twists were brilliant! I didn't see any of them coming.",
	"Cringe-worthy dialogue and wooden performances.",
	"A solid film with great character development and a satisfying ending.",
	"Honestly, I don't get the hype. It was just fine.",
	"The director's best work yet. Thrilling, clever, and beautifully shot.",
	"Predictable ending but still enjoyable to watch with family.",
	"The humor was forced, and most of the jokes didn't land.",
	"Incredible performances by the entire cast. Totally gripping.",
	"A dull and uninspired remake that adds nothing new.",
	"A moving story told with honesty and heart. Highly recommended.",
	"Loud, messy, and overlong. I couldn't wait for it to end.",
	"Great soundtrack, mediocre story, but entertaining overall.",
	"A flawed but fascinating film that lingers in your mind afterward.",
}

// DefaultCorpus returns a copy of the built-in review texts.
func DefaultCorpus() []string {
	return append([]string(nil), defaultCorpus...)
}

// LoadCorpus reads a corpus file: one text per line, blank lines and lines
// starting with '#' ignored.
func LoadCorpus(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFoundError("corpus file " + path)
		}
		return nil, errors.Wrap(errors.CodeValidation, "failed to open corpus", err)
	}
	defer f.Close()

	return ParseCorpus(f)
}

// ParseCorpus reads corpus texts from r. An empty corpus is an error.
func ParseCorpus(r io.Reader) ([]string, error) {
	var texts []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		texts = append(texts, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(errors.CodeValidation, "failed to read corpus", err)
	}
	if len(texts) == 0 {
		return nil, errors.ValidationError("corpus is empty")
	}
	return texts, nil
}
