package engine

// ResolveIntent decides whether the worker must create infrastructure.
// Any create-if-missing flag, an ephemeral branch, a restore or an
// anonymization request all require provisioning.
func ResolveIntent(d Directives) Intent {
	if d.CreateProjectIfMissing ||
		d.Branch.CreateBranchIfMissing ||
		d.CreateEndpointIfMissing ||
		d.Branch.UseEphemeralBranch ||
		d.Branch.Restore.Enabled ||
		d.Branch.Anonymization.Enabled {
		return IntentProvision
	}
	return IntentAttach
}
