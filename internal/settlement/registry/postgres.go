package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/radieske/prize-settlement/internal/settlement/ledger"
)

// Schema cria a tabela de projetos quando ausente (ambiente local)
const Schema = `
CREATE TABLE IF NOT EXISTS projects (
	id             SERIAL PRIMARY KEY,
	name           TEXT NOT NULL UNIQUE,
	wallet_id      TEXT NOT NULL,
	wallet_address TEXT NOT NULL,
	ens_address    TEXT
);
`

// Project é um projeto registrado e sua carteira custodial
type Project struct {
	Name       string
	Wallet     ledger.WalletRef
	ENSAddress string
}

// Postgres lê projetos da tabela projects; o núcleo de liquidação nunca escreve aqui
type Postgres struct{ db *sql.DB }

func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

// EnsureSchema aplica Schema
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ensure projects schema: %w", err)
	}
	return nil
}

// ListProjects devolve todos os projetos ordenados por nome
func (p *Postgres) ListProjects(ctx context.Context) ([]Project, error) {
	const q = `
		SELECT name, wallet_id, wallet_address, COALESCE(ens_address, '')
		FROM projects
		ORDER BY name;
	`
	rows, err := p.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		var pr Project
		if err := rows.Scan(&pr.Name, &pr.Wallet.WalletID, &pr.Wallet.Address, &pr.ENSAddress); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		out = append(out, pr)
	}
	return out, rows.Err()
}

// FindProjectByName devolve found=false quando o nome não está registrado
func (p *Postgres) FindProjectByName(ctx context.Context, name string) (Project, bool, error) {
	const q = `
		SELECT name, wallet_id, wallet_address, COALESCE(ens_address, '')
		FROM projects
		WHERE name = $1;
	`
	var pr Project
	err := p.db.QueryRowContext(ctx, q, name).Scan(&pr.Name, &pr.Wallet.WalletID, &pr.Wallet.Address, &pr.ENSAddress)
	if errors.Is(err, sql.ErrNoRows) {
		return Project{}, false, nil
	}
	if err != nil {
		return Project{}, false, fmt.Errorf("find project %q: %w", name, err)
	}
	return pr, true, nil
}

// Ping é usado pelo /healthz
func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }
