package platform

import (
	"context"
	"encoding/json"
	"fmt"
)

// TweetOptions represents optional parameters for creating a post
type TweetOptions struct {
	ReplyTo  string
	MediaIDs []string
}

// CreateTweetRequest represents the request body for creating a post
type CreateTweetRequest struct {
	Text    string      `json:"text"`
	ReplyTo *ReplyRef   `json:"reply,omitempty"`
	Media   *TweetMedia `json:"media,omitempty"`
}

// ReplyRef threads a post under an existing one.
type ReplyRef struct {
	InReplyToTweetID string `json:"in_reply_to_tweet_id"`
}

// TweetMedia attaches previously uploaded media ids.
type TweetMedia struct {
	MediaIDs []string `json:"media_ids"`
}

// PostTweet creates a new post
func (c *Client) PostTweet(ctx context.Context, text string, opts *TweetOptions) (*Tweet, error) {
	if err := c.waitForWriteSlot(ctx); err != nil {
		return nil, err
	}

	request := CreateTweetRequest{Text: text}
	if opts != nil {
		if opts.ReplyTo != "" {
			request.ReplyTo = &ReplyRef{InReplyToTweetID: opts.ReplyTo}
		}
		if len(opts.MediaIDs) > 0 {
			request.Media = &TweetMedia{MediaIDs: opts.MediaIDs}
		}
	}

	resp, err := c.makeRequest(ctx, "POST", c.config.TweetEndpoint, request)
	if err != nil {
		c.logger.WithError(err).Error("failed to post tweet")
		return nil, err
	}
	defer resp.Body.Close()

	if err := c.handleResponse(resp); err != nil {
		return nil, err
	}

	var tweetResponse TweetResponse
	if err := json.NewDecoder(resp.Body).Decode(&tweetResponse); err != nil {
		c.logger.WithError(err).Error("failed to decode tweet response")
		return nil, err
	}
	if tweetResponse.Data == nil {
		return nil, fmt.Errorf("empty tweet response")
	}

	return tweetResponse.Data, nil
}
