package httpapi

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/learnkit/authn"
	"github.com/learnkit/authn/account"
)

const maxEnrollmentBody = 4 << 10

// EnrollmentForwarder posts the enrollment_action of a successful login to
// endpoint as a form (user_id, username, enrollment_action, course_id) and
// reports the upstream status and trimmed body. A 200 with a non-empty body
// becomes the login's redirect_url.
func EnrollmentForwarder(endpoint string, client *http.Client) authn.EnrollmentChangerFunc {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context, user *account.User, action, courseID string) (int, string, error) {
		form := url.Values{
			"user_id":           {strconv.FormatInt(user.ID, 10)},
			"username":          {user.Username},
			"enrollment_action": {action},
			"course_id":         {courseID},
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return 0, "", err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := client.Do(req)
		if err != nil {
			return 0, "", err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxEnrollmentBody))
		if err != nil {
			return resp.StatusCode, "", err
		}
		return resp.StatusCode, strings.TrimSpace(string(body)), nil
	}
}
