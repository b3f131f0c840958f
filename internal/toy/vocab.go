package toy

import (
	"fmt"
	"unicode/utf8"

	"github.com/samcharles93/lantern/internal/inference"
)

// Vocab tokenizes by greedy longest match over the manifest pieces. Special
// tokens never match text and detokenize to "".
type Vocab struct {
	pieces  []string
	ids     map[string]inference.Token
	maxLen  int
	bos     inference.Token
	eos     inference.Token
	unk     inference.Token
	addBOS  bool
	special map[inference.Token]bool
}

func NewVocab(m *Manifest) *Vocab {
	v := &Vocab{
		pieces:  m.Vocab,
		ids:     make(map[string]inference.Token, len(m.Vocab)),
		bos:     inference.Token(m.BOS),
		eos:     inference.Token(m.EOS),
		unk:     inference.Token(m.UNK),
		addBOS:  m.AddBOS,
		special: make(map[inference.Token]bool, 3),
	}
	for _, id := range []int{m.BOS, m.EOS, m.UNK} {
		if id >= 0 {
			v.special[inference.Token(id)] = true
		}
	}
	for i, p := range m.Vocab {
		tok := inference.Token(i)
		if p == "" || v.special[tok] {
			continue
		}
		if _, dup := v.ids[p]; dup {
			continue
		}
		v.ids[p] = tok
		v.maxLen = max(v.maxLen, len(p))
	}
	return v
}

func (v *Vocab) Tokenize(text string, maxTokens int) ([]inference.Token, error) {
	out := make([]inference.Token, 0, min(len(text)+1, max(maxTokens, 0)))
	push := func(tok inference.Token) error {
		if len(out) >= maxTokens {
			return fmt.Errorf("%w: prompt needs more than %d tokens", inference.ErrTokenOverflow, maxTokens)
		}
		out = append(out, tok)
		return nil
	}

	if v.addBOS {
		if err := push(v.bos); err != nil {
			return nil, err
		}
	}
	for i := 0; i < len(text); {
		tok, n := v.match(text[i:])
		if n == 0 {
			if v.unk < 0 {
				r, _ := utf8.DecodeRuneInString(text[i:])
				return nil, fmt.Errorf("no vocabulary piece matches %q at byte %d", r, i)
			}
			_, n = utf8.DecodeRuneInString(text[i:])
			tok = v.unk
		}
		if err := push(tok); err != nil {
			return nil, err
		}
		i += n
	}
	return out, nil
}

func (v *Vocab) match(s string) (inference.Token, int) {
	for l := min(v.maxLen, len(s)); l > 0; l-- {
		if tok, ok := v.ids[s[:l]]; ok {
			return tok, l
		}
	}
	return 0, 0
}

func (v *Vocab) TokenToPiece(tok inference.Token) string {
	if tok < 0 || int(tok) >= len(v.pieces) || v.special[tok] {
		return ""
	}
	return v.pieces[tok]
}

func (v *Vocab) EOS() inference.Token { return v.eos }

func (v *Vocab) Size() int { return len(v.pieces) }

var _ inference.Vocabulary = (*Vocab)(nil)
