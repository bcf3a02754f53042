// -----------------------------------------------------------------------
// Redis Indexer - Inverted token index over go-redis
// -----------------------------------------------------------------------

package index

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/redis/go-redis/v9"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reperio/internal/interfaces"
)

const (
	minTokenLength  = 2
	maxTokensPerDoc = 10000
	snippetLength   = 200
)

// RedisIndexer implements the Indexer interface with a token-based
// inverted index. Each document keeps its token set so deletes can
// unwind index entries. Writes are best effort by contract; the caller
// treats failures as non-fatal.
type RedisIndexer struct {
	client *redis.Client
	prefix string
	logger arbor.ILogger
}

// NewRedisIndexer connects to the URI (redis://host:port/db) and returns
// an indexer namespaced under the given index name
func NewRedisIndexer(uri, indexName string, logger arbor.ILogger) (*RedisIndexer, error) {
	opts, err := redis.ParseURL(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URI: %w", err)
	}
	return &RedisIndexer{
		client: redis.NewClient(opts),
		prefix: indexName,
		logger: logger,
	}, nil
}

func (r *RedisIndexer) docKey(id string) string       { return r.prefix + ":doc:" + id }
func (r *RedisIndexer) tokenKey(tok string) string    { return r.prefix + ":tok:" + tok }
func (r *RedisIndexer) docTokensKey(id string) string { return r.prefix + ":doctoks:" + id }
func (r *RedisIndexer) suggestKey() string            { return r.prefix + ":sugg" }

// tokenize lowercases and splits on non-alphanumeric runes
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) >= minTokenLength {
			out = append(out, f)
		}
		if len(out) >= maxTokensPerDoc {
			break
		}
	}
	return out
}

// Index replaces the document and its token postings
func (r *RedisIndexer) Index(ctx context.Context, doc *interfaces.IndexDocument) error {
	if doc.ID == "" {
		return fmt.Errorf("document ID is required")
	}

	// Remove stale postings from a previous version of the document
	if err := r.removePostings(ctx, doc.ID); err != nil {
		return err
	}

	tokens := tokenize(doc.Content)
	freq := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		freq[tok]++
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, r.docKey(doc.ID), map[string]interface{}{
		"url":     doc.URL,
		"title":   doc.Title,
		"content": doc.Content,
	})
	for tok, n := range freq {
		pipe.ZIncrBy(ctx, r.tokenKey(tok), float64(n), doc.ID)
		pipe.SAdd(ctx, r.docTokensKey(doc.ID), tok)
		pipe.ZAdd(ctx, r.suggestKey(), redis.Z{Score: 0, Member: tok})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("index write failed: %w", err)
	}
	return nil
}

func (r *RedisIndexer) removePostings(ctx context.Context, id string) error {
	tokens, err := r.client.SMembers(ctx, r.docTokensKey(id)).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to load document tokens: %w", err)
	}
	if len(tokens) == 0 {
		return nil
	}

	pipe := r.client.TxPipeline()
	for _, tok := range tokens {
		pipe.ZRem(ctx, r.tokenKey(tok), id)
	}
	pipe.Del(ctx, r.docTokensKey(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to remove postings: %w", err)
	}
	return nil
}

// Delete removes a document and all of its index entries
func (r *RedisIndexer) Delete(ctx context.Context, id string) error {
	if err := r.removePostings(ctx, id); err != nil {
		return err
	}
	if err := r.client.Del(ctx, r.docKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

// Search ranks documents by summed term frequency across query tokens
func (r *RedisIndexer) Search(ctx context.Context, query string, page, limit int) (*interfaces.SearchResult, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}

	tokens := tokenize(query)
	result := &interfaces.SearchResult{Page: page, PageSize: limit, Hits: []interfaces.SearchHit{}}
	if len(tokens) == 0 {
		return result, nil
	}

	keys := make([]string, len(tokens))
	for i, tok := range tokens {
		keys[i] = r.tokenKey(tok)
	}

	tmpKey := fmt.Sprintf("%s:q:%d", r.prefix, hashTokens(tokens))
	defer r.client.Del(ctx, tmpKey)

	if err := r.client.ZUnionStore(ctx, tmpKey, &redis.ZStore{Keys: keys}).Err(); err != nil {
		return nil, fmt.Errorf("search union failed: %w", err)
	}

	total, err := r.client.ZCard(ctx, tmpKey).Result()
	if err != nil {
		return nil, fmt.Errorf("search count failed: %w", err)
	}
	result.Total = int(total)

	start := int64((page - 1) * limit)
	stop := start + int64(limit) - 1
	ranked, err := r.client.ZRevRangeWithScores(ctx, tmpKey, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("search range failed: %w", err)
	}

	for _, z := range ranked {
		id, ok := z.Member.(string)
		if !ok {
			continue
		}
		fields, err := r.client.HGetAll(ctx, r.docKey(id)).Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		result.Hits = append(result.Hits, interfaces.SearchHit{
			URL:     fields["url"],
			Title:   fields["title"],
			Snippet: makeSnippet(fields["content"], tokens),
			Score:   z.Score,
		})
	}
	return result, nil
}

// makeSnippet centers on the first query token match, falling back to
// the content prefix
func makeSnippet(content string, tokens []string) string {
	if content == "" {
		return ""
	}
	lower := strings.ToLower(content)
	pos := -1
	for _, tok := range tokens {
		if i := strings.Index(lower, tok); i >= 0 && (pos < 0 || i < pos) {
			pos = i
		}
	}

	start := 0
	if pos > snippetLength/2 {
		start = pos - snippetLength/2
	}
	end := start + snippetLength
	if end > len(content) {
		end = len(content)
	}
	snippet := strings.TrimSpace(content[start:end])
	if start > 0 {
		snippet = "..." + snippet
	}
	if end < len(content) {
		snippet += "..."
	}
	return snippet
}

func hashTokens(tokens []string) uint32 {
	var h uint32 = 2166136261
	for _, tok := range tokens {
		for i := 0; i < len(tok); i++ {
			h ^= uint32(tok[i])
			h *= 16777619
		}
		h ^= '|'
		h *= 16777619
	}
	return h
}

// Suggest returns indexed tokens starting with the prefix
func (r *RedisIndexer) Suggest(ctx context.Context, prefix string, limit int) ([]string, error) {
	if limit < 1 {
		limit = 10
	}
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if prefix == "" {
		return []string{}, nil
	}

	matches, err := r.client.ZRangeByLex(ctx, r.suggestKey(), &redis.ZRangeBy{
		Min:   "[" + prefix,
		Max:   "[" + prefix + "\xff",
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("suggest failed: %w", err)
	}
	return matches, nil
}

// Ping checks connectivity
func (r *RedisIndexer) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the client connection pool
func (r *RedisIndexer) Close() error {
	return r.client.Close()
}
