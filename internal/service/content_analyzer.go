package service

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"anti-spam/internal/domain"

	"github.com/cloudflare/ahocorasick"
)

// Pesos da análise de conteúdo
const (
	spamKeywordWeight      = 0.3
	spamKeywordCap         = 0.8
	suspiciousKeywordScore = 0.4
	suspiciousKeywordMin   = 2
	linkPenalty            = 0.5
	repetitionPenalty      = 0.4
	repetitionRatio        = 0.3
	repetitionMinWordLen   = 3
	capsPenalty            = 0.3
	capsRatio              = 0.7
	emailPatternPenalty    = 0.3
	shortMessagePenalty    = 0.3
	longMessagePenalty     = 0.2
)

var (
	linkPattern = regexp.MustCompile(`https?://\S+`)

	suspiciousEmailPatterns = []*regexp.Regexp{
		regexp.MustCompile(`^[0-9]+@`),
		regexp.MustCompile(`^[^@]{1,3}@`),
		regexp.MustCompile(`[0-9]{4,}@`),
		regexp.MustCompile(`@[0-9]+`),
	}
)

// keywordSet conta quantas palavras-chave distintas aparecem num texto.
// O Matcher do ahocorasick guarda estado entre buscas, então Match é serializado.
type keywordSet struct {
	matcher  *ahocorasick.Matcher
	keywords []string
	mu       sync.Mutex
}

func newKeywordSet(keywords []string) *keywordSet {
	unique := make([]string, 0, len(keywords))
	seen := make(map[string]struct{}, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if _, ok := seen[kw]; ok {
			continue
		}
		seen[kw] = struct{}{}
		unique = append(unique, kw)
	}

	set := &keywordSet{keywords: unique}
	if len(unique) > 0 {
		set.matcher = ahocorasick.NewStringMatcher(unique)
	}
	return set
}

// count devolve o número de palavras-chave presentes (cada uma conta uma vez)
func (k *keywordSet) count(lowerText string) int {
	if k.matcher == nil || lowerText == "" {
		return 0
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.matcher.Match([]byte(lowerText)))
}

// ContentAnalyzer pontua o texto da submissão.
// É imutável depois de criado; mudanças de configuração geram um novo analisador.
type ContentAnalyzer struct {
	config     domain.ContentAnalysisConfig
	spam       *keywordSet
	suspicious *keywordSet
}

// NewContentAnalyzer cria um analisador para a configuração informada
func NewContentAnalyzer(config domain.ContentAnalysisConfig) *ContentAnalyzer {
	return &ContentAnalyzer{
		config:     config,
		spam:       newKeywordSet(config.SpamKeywords),
		suspicious: newKeywordSet(config.SuspiciousKeywords),
	}
}

// Analyze soma as penalidades disparadas e satura o total em [0, 1]
func (a *ContentAnalyzer) Analyze(message, subject, name, email string) (float64, []string) {
	var score float64
	reasons := []string{}

	fullText := strings.ToLower(subject + " " + message + " " + name)

	// Tamanho da mensagem (as duas regras são independentes)
	length := utf8.RuneCountInString(message)
	if length < a.config.MinMessageLength {
		score += shortMessagePenalty
		reasons = append(reasons, "Message too short")
	}
	if length > a.config.MaxMessageLength {
		score += longMessagePenalty
		reasons = append(reasons, "Message too long")
	}

	if n := a.spam.count(fullText); n > 0 {
		weight := float64(n) * spamKeywordWeight
		if weight > spamKeywordCap {
			weight = spamKeywordCap
		}
		score += weight
		reasons = append(reasons, fmt.Sprintf("Contains %d spam keywords", n))
	}

	if n := a.suspicious.count(fullText); n > suspiciousKeywordMin {
		score += suspiciousKeywordScore
		reasons = append(reasons, fmt.Sprintf("Contains %d suspicious keywords", n))
	}

	if links := len(linkPattern.FindAllStringIndex(message, -1)); links > a.config.MaxLinkCount {
		score += linkPenalty
		reasons = append(reasons, fmt.Sprintf("Contains %d links (max: %d)", links, a.config.MaxLinkCount))
	}

	if isRepetitive(message) {
		score += repetitionPenalty
		reasons = append(reasons, "Contains repetitive content")
	}

	if capsRatioOf(message) > capsRatio {
		score += capsPenalty
		reasons = append(reasons, "Excessive use of capital letters")
	}

	if hasSuspiciousEmailPattern(email) {
		score += emailPatternPenalty
		reasons = append(reasons, "Suspicious email pattern")
	}

	return domain.ClampConfidence(score), reasons
}

// isRepetitive verifica se uma palavra longa domina a mensagem
func isRepetitive(message string) bool {
	words := strings.Fields(strings.ToLower(message))
	if len(words) == 0 {
		return false
	}

	frequency := make(map[string]int)
	for _, word := range words {
		if utf8.RuneCountInString(word) > repetitionMinWordLen {
			frequency[word]++
		}
	}

	total := float64(len(words))
	for _, count := range frequency {
		if float64(count)/total > repetitionRatio {
			return true
		}
	}
	return false
}

// capsRatioOf calcula maiúsculas / letras; zero letras dá razão zero
func capsRatioOf(message string) float64 {
	letters, upper := 0, 0
	for _, r := range message {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.IsUpper(r) {
			upper++
		}
	}
	if letters == 0 {
		return 0
	}
	return float64(upper) / float64(letters)
}

func hasSuspiciousEmailPattern(email string) bool {
	if email == "" {
		return false
	}
	for _, pattern := range suspiciousEmailPatterns {
		if pattern.MatchString(email) {
			return true
		}
	}
	return false
}
