// Package policy provides Open Policy Agent (OPA) integration for neonlink.
//
// The Engine evaluates Rego policies against a project's provisioning
// directives before its worker is configured. Engine.Check is the gate the
// orchestrator calls: any violation with severity error or critical denies
// the launch with a POLICY_DENIED error, and lower severities are logged.
//
// # Input document
//
// Policies see the following input:
//
//	{
//	  "project":    "<project resource name>",
//	  "directives": { ...engine.Directives as JSON... },
//	  "databases":  [ { "name": "...", "database_name": "...", "role_name": "..." } ],
//	  "context":    { "timestamp": "<RFC 3339>", "operation": "launch", "intent": "provision" }
//	}
//
// Violations are read from the deny set of the policy's package. An entry
// is either a message string or an object with message, severity, resource
// and remediation keys.
//
// # Built-in Policies
//
//  1. masking-rules - exactly one of masking_function and masking_value per rule
//  2. anonymization-rules - anonymization enabled without masking rules (warning)
//  3. protected-restore - restore enabled on a protected branch
//  4. branch-expiry - expires_at not after the evaluation time
//  5. ephemeral-prefix - ephemeral prefix outside [a-z0-9-] (warning)
//
// # Custom Policies
//
//	package custom.policies.region
//
//	import rego.v1
//
//	deny contains violation if {
//	    input.directives.region_id != "aws-eu-central-1"
//	    violation := {
//	        "message": "projects must live in aws-eu-central-1",
//	        "severity": "error",
//	    }
//	}
//
// Load them with Engine.LoadPolicies, or keep them current with
// Engine.Watch, which reloads on every change to the watched paths.
package policy
