package auth_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseline/internal/config"
	"caseline/internal/domain"
	"caseline/internal/engine/auth"
)

func TestRolePolicyFromDefaultConfig(t *testing.T) {
	p := auth.PolicyFromConfig(config.Default())

	require.NoError(t, p.Authorize(domain.Actor{ID: "c", Role: "captain"}, auth.CertificateApprove))
	require.NoError(t, p.Authorize(domain.Actor{ID: "s", Role: "staff"}, auth.CertificateRelease))
	require.NoError(t, p.Authorize(domain.Actor{ID: "r", Role: "resident"}, auth.CertificateSubmit))

	err := p.Authorize(domain.Actor{ID: "r", Role: "resident"}, auth.CertificateApprove)
	var forbidden auth.ForbiddenError
	require.ErrorAs(t, err, &forbidden)
	assert.Equal(t, auth.CertificateApprove, forbidden.Operation)
	assert.Equal(t, "resident", forbidden.Role)

	assert.Equal(t, []string{"captain"}, p.Roles(auth.IssuedSign))
}

func TestRolePolicyDeniesUnknownOperationAndEmptyRole(t *testing.T) {
	p := auth.NewRolePolicy(map[string][]string{"blotter.approve": {"captain"}})
	assert.Error(t, p.Authorize(domain.Actor{ID: "a", Role: "captain"}, "blotter.purge"))
	assert.Error(t, p.Authorize(domain.Actor{ID: "a"}, "blotter.approve"))
	assert.NoError(t, p.Authorize(domain.Actor{ID: "a", Role: "captain"}, auth.KindOperation(domain.KindBlotter, "approve")))
}
