package k8s

import (
	"context"
	"strings"

	"go.uber.org/zap"
	authv1 "k8s.io/api/authorization/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/kubestellar/pgboard/pkg/models"
)

// RequiredAccess lists the cluster-wide permissions the dashboard uses: list and watch on
// every watched resource, plus the reads behind the CNPG probes.
func RequiredAccess() []models.AccessCheck {
	var out []models.AccessCheck
	for _, rt := range WatchedResources {
		for _, verb := range []string{"list", "watch"} {
			out = append(out, models.AccessCheck{Verb: verb, Group: rt.GVR.Group, Resource: rt.GVR.Resource})
		}
	}
	return append(out,
		models.AccessCheck{Verb: "get", Group: "apiextensions.k8s.io", Resource: "customresourcedefinitions"},
		models.AccessCheck{Verb: "create", Resource: "pods", Subresource: "exec"},
		models.AccessCheck{Verb: "get", Group: "metrics.k8s.io", Resource: "pods"},
		models.AccessCheck{Verb: "get", Resource: "secrets"},
	)
}

// CheckAccess asks the API server which of the required permissions the current identity holds
func (m *MultiClusterClient) CheckAccess(ctx context.Context, contextName string) (models.ClusterAccess, error) {
	client, err := m.GetClient(contextName)
	if err != nil {
		return models.ClusterAccess{}, err
	}

	access := models.ClusterAccess{Context: contextName}
	for _, check := range RequiredAccess() {
		review := &authv1.SelfSubjectAccessReview{
			Spec: authv1.SelfSubjectAccessReviewSpec{
				ResourceAttributes: &authv1.ResourceAttributes{
					Verb:        check.Verb,
					Group:       check.Group,
					Resource:    check.Resource,
					Subresource: check.Subresource,
				},
			},
		}
		result, err := client.AuthorizationV1().SelfSubjectAccessReviews().Create(ctx, review, metav1.CreateOptions{})
		if err != nil {
			return models.ClusterAccess{}, NewAPIError(contextName, err)
		}
		check.Allowed = result.Status.Allowed
		check.Reason = result.Status.Reason
		access.Checks = append(access.Checks, check)
	}
	return access, nil
}

// LogAccess checks every context and warns about missing permissions. It never fails:
// a denied permission only degrades the affected part of the snapshot.
func (m *MultiClusterClient) LogAccess(ctx context.Context, contexts []string) {
	for _, name := range contexts {
		log := m.logger.With(zap.String("context", name))
		access, err := m.CheckAccess(ctx, name)
		if err != nil {
			log.Warn("access review failed", zap.Error(err))
			continue
		}
		denied := access.Denied()
		if len(denied) == 0 {
			log.Debug("all required permissions granted")
			continue
		}
		for _, check := range denied {
			log.Warn("permission missing",
				zap.String("verb", check.Verb),
				zap.String("resource", qualifiedResource(check)),
				zap.String("reason", check.Reason),
			)
		}
	}
}

func qualifiedResource(check models.AccessCheck) string {
	var b strings.Builder
	b.WriteString(check.Resource)
	if check.Subresource != "" {
		b.WriteString("/" + check.Subresource)
	}
	if check.Group != "" {
		b.WriteString("." + check.Group)
	}
	return b.String()
}
