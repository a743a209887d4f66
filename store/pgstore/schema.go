package pgstore

import (
	"context"
	"fmt"
)

// schema is idempotent and safe to re-run on startup.
const schema = `
create table if not exists identities (
	id bigint generated always as identity primary key,
	username text not null,
	email text not null,
	password_hash text not null,
	is_active boolean not null default true,
	is_verified boolean not null default false,
	verification_token text,
	reset_token text,
	reset_token_expires_at timestamptz,
	role text not null default 'viewer',
	is_2fa_enabled boolean not null default false,
	created_at timestamptz not null default now()
);
create unique index if not exists identities_username_key on identities (lower(username));
create unique index if not exists identities_email_key on identities (email);
create unique index if not exists identities_verification_token_key
	on identities (verification_token) where verification_token is not null;
create unique index if not exists identities_reset_token_key
	on identities (reset_token) where reset_token is not null;

create table if not exists identity_capabilities (
	identity_id bigint not null references identities (id) on delete cascade,
	capability text not null,
	primary key (identity_id, capability)
);

create table if not exists sessions (
	id bigint generated always as identity primary key,
	identity_id bigint not null references identities (id) on delete cascade,
	refresh_token text not null unique,
	fingerprint text,
	user_agent text,
	origin text,
	expires_at timestamptz not null,
	is_active boolean not null default true,
	created_at timestamptz not null default now()
);
create index if not exists sessions_identity_active_idx
	on sessions (identity_id) where is_active;

create table if not exists totp_secrets (
	identity_id bigint primary key references identities (id) on delete cascade,
	secret text not null,
	is_verified boolean not null default false,
	created_at timestamptz not null default now()
);

create table if not exists backup_codes (
	id bigint generated always as identity primary key,
	identity_id bigint not null references identities (id) on delete cascade,
	code_hash text not null,
	is_used boolean not null default false
);
create index if not exists backup_codes_identity_idx on backup_codes (identity_id);
`

// Migrate applies the schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
