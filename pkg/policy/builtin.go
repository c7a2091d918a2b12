package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		maskingRulesPolicy(),
		anonymizationRulesPolicy(),
		protectedRestorePolicy(),
		branchExpiryPolicy(),
		ephemeralPrefixPolicy(),
	}
}

func builtin(name, description string, severity Severity, tags []string, module string) Policy {
	now := time.Now()
	return Policy{
		Name:        name,
		Description: description,
		Severity:    severity,
		Enabled:     true,
		Builtin:     true,
		Tags:        tags,
		CreatedAt:   now,
		UpdatedAt:   now,
		Rego:        module,
	}
}

// maskingRulesPolicy requires exactly one of masking_function and
// masking_value on every masking rule.
func maskingRulesPolicy() Policy {
	return builtin("masking-rules",
		"Every masking rule sets exactly one of masking_function and masking_value",
		SeverityError, []string{"anonymization", "validation"},
		`package neonlink.policies.masking

import rego.v1

deny contains violation if {
	some rule in input.directives.branch.anonymization.masking_rules
	provided := [f | some f in ["masking_function", "masking_value"]; object.get(rule, f, "") != ""]
	count(provided) != 1
	violation := {
		"message": sprintf("masking rule for %s.%s must set exactly one of masking_function and masking_value", [rule.table_name, rule.column_name]),
		"severity": "error",
		"resource": input.project,
		"remediation": "remove masking_value or masking_function from the rule",
	}
}
`)
}

// anonymizationRulesPolicy warns when anonymization is enabled with
// nothing to mask.
func anonymizationRulesPolicy() Policy {
	return builtin("anonymization-rules",
		"Anonymization without masking rules leaves data unmasked",
		SeverityWarning, []string{"anonymization"},
		`package neonlink.policies.anonymization

import rego.v1

has_rules if {
	count(input.directives.branch.anonymization.masking_rules) > 0
}

deny contains violation if {
	input.directives.branch.anonymization.enabled
	not has_rules
	violation := {
		"message": "anonymization is enabled but no masking rules are declared",
		"severity": "warning",
		"resource": input.project,
	}
}
`)
}

// protectedRestorePolicy blocks restoring over a protected branch.
func protectedRestorePolicy() Policy {
	return builtin("protected-restore",
		"A restore must not overwrite a protected branch",
		SeverityError, []string{"branch", "restore"},
		`package neonlink.policies.restore

import rego.v1

deny contains violation if {
	input.directives.branch.restore.enabled
	input.directives.branch.protected == true
	violation := {
		"message": "restore is enabled on a protected branch",
		"severity": "error",
		"resource": input.project,
		"remediation": "unprotect the branch or restore into a new branch",
	}
}
`)
}

// branchExpiryPolicy blocks branches that would expire before they exist.
func branchExpiryPolicy() Policy {
	return builtin("branch-expiry",
		"A branch expiry must be in the future",
		SeverityError, []string{"branch"},
		`package neonlink.policies.expiry

import rego.v1

deny contains violation if {
	expires := input.directives.branch.expires_at
	time.parse_rfc3339_ns(expires) <= time.parse_rfc3339_ns(input.context.timestamp)
	violation := {
		"message": sprintf("branch expiry %s is not in the future", [expires]),
		"severity": "error",
		"resource": input.project,
	}
}
`)
}

// ephemeralPrefixPolicy keeps generated branch names valid.
func ephemeralPrefixPolicy() Policy {
	return builtin("ephemeral-prefix",
		"Ephemeral branch prefixes use lowercase letters, digits and hyphens",
		SeverityWarning, []string{"branch", "naming"},
		`package neonlink.policies.ephemeral

import rego.v1

deny contains violation if {
	input.directives.branch.use_ephemeral_branch
	prefix := input.directives.branch.ephemeral_branch_prefix
	not regex.match("^[a-z0-9][a-z0-9-]*$", prefix)
	violation := {
		"message": sprintf("ephemeral branch prefix '%s' should contain only lowercase letters, digits and hyphens", [prefix]),
		"severity": "warning",
		"resource": input.project,
	}
}
`)
}
