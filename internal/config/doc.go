/*
Package config loads and validates the settings that govern a running
virtualization instance: the provider's recognized options
(instance_path, virtual_root, cache_ttl, debug), plus the ambient
logging, resilience, and monitoring settings the rest of this module
depends on.

# Precedence

Defaults, then a YAML file, then environment variables, in that order:

	cfg := config.NewDefault()
	if err := cfg.LoadFromFile(path); err != nil { ... }
	if err := cfg.LoadFromEnv(); err != nil { ... }
	if err := cfg.Validate(); err != nil { ... }

# File format

	provider:
	  instance_path: /var/lib/objfsprojfs/store
	  virtual_root: C:\mnt\objfs
	  enum_fuse_ceiling: 100

	cache:
	  ttl: 1h
	  content_size_threshold: 1048576

Environment variables use the OBJFSPROJFS_ prefix, e.g.
OBJFSPROJFS_INSTANCE_PATH, OBJFSPROJFS_CACHE_TTL.

instance_path and virtual_root have no defaults; Validate rejects a
configuration missing either.
*/
package config
