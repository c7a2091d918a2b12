// Package config loads the declarations and settings of a neonlink
// application.
//
// # Topology
//
// A topology lists the Neon projects an application needs and the
// databases declared against each of them. CUE is the primary format;
// YAML files are accepted with the same validation. Projects may be keyed
// by name:
//
//	version: "1"
//
//	projects: shop: {
//	    directives: {
//	        project_name:              "shop"
//	        create_project_if_missing: true
//	        branch: {
//	            branch_name:              "preview"
//	            create_branch_if_missing: true
//	        }
//	    }
//	    databases: [{name: "orders"}, {name: "users", role_name: "app"}]
//	}
//
// CUEParser checks every project against the built-in CUE schemas, the
// validator struct tags and the directive rules of the contract package.
// Problems are collected in Topology.Errors with file and path
// information rather than returned; a topology with errors refuses to
// build resources.
//
// # Settings
//
// Settings configure the process itself: the worker command, the cache,
// output and store locations, handshake timing and telemetry. They are
// read from an optional YAML file and then overridden by NEONLINK_*
// environment variables. The Neon API key is only ever read from the
// environment.
//
// # Schemas
//
// SchemaRegistry holds the built-in schemas (project, directives,
// database, settings) and any custom schema registered at runtime.
package config
