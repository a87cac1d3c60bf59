package platform

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// ThreadUnit is one post's worth of content within a thread.
type ThreadUnit struct {
	Text     string
	MediaIDs []string
}

// ThreadResult reports the created chain. FirstID is what callers persist
// as the item's platform post id.
type ThreadResult struct {
	FirstID string
	IDs     []string
}

// PostThread posts the units strictly in sequence, each one as a reply to
// the previous unit's returned id. A failure partway through surfaces with
// the ids already created so the error text shows how far the chain got.
func (c *Client) PostThread(ctx context.Context, units []ThreadUnit) (*ThreadResult, error) {
	if len(units) == 0 {
		return nil, fmt.Errorf("thread requires at least one unit")
	}

	result := &ThreadResult{IDs: make([]string, 0, len(units))}
	replyTo := ""

	for i, unit := range units {
		opts := &TweetOptions{MediaIDs: unit.MediaIDs}
		if replyTo != "" {
			opts.ReplyTo = replyTo
		}

		tweet, err := c.PostTweet(ctx, unit.Text, opts)
		if err != nil {
			c.logger.WithError(err).WithFields(logrus.Fields{
				"unit":        i,
				"posted_so_far": len(result.IDs),
			}).Error("thread post failed mid-chain")
			return nil, fmt.Errorf("thread unit %d failed after %d posted: %w", i, len(result.IDs), err)
		}

		result.IDs = append(result.IDs, tweet.ID)
		if i == 0 {
			result.FirstID = tweet.ID
		}
		replyTo = tweet.ID

		c.logger.WithFields(logrus.Fields{
			"unit":             i,
			"platform_post_id": tweet.ID,
		}).Debug("thread unit posted")
	}

	return result, nil
}
