package platform

// Tweet is the subset of the platform post object the pipeline needs.
type Tweet struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// TweetResponse wraps the v2 single-object envelope.
type TweetResponse struct {
	Data *Tweet `json:"data"`
}

// User is the authenticated account identity, used as a liveness check.
type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
}

// UserResponse wraps the v2 single-object envelope.
type UserResponse struct {
	Data *User `json:"data"`
}
