// Package notify tells outside systems about tenant lifecycle events.
package notify

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/go-github/github"
	"github.com/sirupsen/logrus"
	"github.com/surajsub/tenant-provisioner/models"
	"golang.org/x/oauth2"
)

// IssueNotifier opens a tracking issue for every activated tenant.
type IssueNotifier struct {
	client *github.Client
	owner  string
	repo   string
	labels []string
	logger *logrus.Logger
}

func NewGitHubClient(ctx context.Context, token, baseURL string) (*github.Client, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	client := github.NewClient(oauth2.NewClient(ctx, ts))
	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid github base url: %w", err)
		}
		client.BaseURL = u
	}
	return client, nil
}

func NewIssueNotifier(client *github.Client, owner, repo string, logger *logrus.Logger) *IssueNotifier {
	return &IssueNotifier{
		client: client,
		owner:  owner,
		repo:   repo,
		labels: []string{"tenant-activated"},
		logger: logger,
	}
}

func (n *IssueNotifier) OnTenantActivated(ctx context.Context, tenant models.Tenant) error {
	title := fmt.Sprintf("Tenant %s activated", tenant.ID)
	body := fmt.Sprintf("Tenant `%s` became %s at %s.", tenant.ID, tenant.Status, tenant.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"))
	issue, _, err := n.client.Issues.Create(ctx, n.owner, n.repo, &github.IssueRequest{
		Title:  github.String(title),
		Body:   github.String(body),
		Labels: &n.labels,
	})
	if err != nil {
		return fmt.Errorf("failed to open activation issue for %s: %w", tenant.ID, err)
	}
	n.logger.WithFields(logrus.Fields{"tenant": tenant.ID, "issue": issue.GetNumber()}).Info("Activation issue opened")
	return nil
}
