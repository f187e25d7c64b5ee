package inventory

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/resourceexplorer2"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/rdsaudit/internal/awsapi"
	"github.com/yairfalse/rdsaudit/internal/credentials"
)

// PageSize is the largest page the resource index serves.
const PageSize int32 = 1000

// Searcher queries the aggregator index for one account's database resources.
type Searcher struct {
	client func(cfg aws.Config, region string) awsapi.ResourceExplorerAPI
	region string
	kinds  []string
}

// NewSearcher creates a searcher against the aggregator index in region.
func NewSearcher(client func(cfg aws.Config, region string) awsapi.ResourceExplorerAPI, region string, kinds []string) *Searcher {
	if len(kinds) == 0 {
		kinds = DefaultKinds
	}
	return &Searcher{client: client, region: region, kinds: kinds}
}

// Query returns the index query string for account.
func (s *Searcher) Query(account string) string {
	var b strings.Builder
	b.WriteString("accountid:")
	b.WriteString(account)
	for _, kind := range s.kinds {
		b.WriteString(" resourcetype:")
		b.WriteString(kind)
	}
	return b.String()
}

// Search pages through the index until it stops returning a continuation token.
// Any page failure discards everything read so far.
func (s *Searcher) Search(ctx context.Context, scope credentials.Scope, account string) ([]InventoryEntry, error) {
	client := s.client(scope.Config, s.region)
	query := s.Query(account)

	entries := make([]InventoryEntry, 0)
	pages := 0
	var nextToken *string
	for {
		out, err := client.Search(ctx, &resourceexplorer2.SearchInput{
			QueryString: aws.String(query),
			MaxResults:  aws.Int32(PageSize),
			NextToken:   nextToken,
		})
		if err != nil {
			return nil, fmt.Errorf("search resource index: %w", err)
		}
		pages++

		for _, r := range out.Resources {
			entry, err := entryFromResource(r)
			if err != nil {
				return nil, fmt.Errorf("search resource index: %w", err)
			}
			entries = append(entries, entry)
		}

		if out.NextToken == nil || *out.NextToken == "" {
			break
		}
		nextToken = out.NextToken
	}

	log.Debug().
		Str("account", account).
		Str("query", query).
		Int("pages", pages).
		Int("count", len(entries)).
		Msg("Searched resource index")

	return entries, nil
}
