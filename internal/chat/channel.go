package chat

import "fmt"

// Channel id helpers. A channel is only a grouping key; membership is
// resolved by the platform, not by this package.

// CollectiveChannel scopes a collective's group discussion.
func CollectiveChannel(collectiveID int64) string {
	return fmt.Sprintf("discussion:%d", collectiveID)
}

// FeedThreadChannel scopes the comment thread under a feed post.
func FeedThreadChannel(postID int64) string {
	return fmt.Sprintf("feed:%d", postID)
}

// MovieThreadChannel scopes the discussion thread of a movie rating.
func MovieThreadChannel(ratingID int64) string {
	return fmt.Sprintf("movie:%d", ratingID)
}
