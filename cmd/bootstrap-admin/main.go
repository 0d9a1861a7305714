package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"time"

	"hrms.org/internal/auth"
	"hrms.org/internal/store/pg"
)

// bootstrap-admin creates or updates an ADMIN account so a fresh deployment
// can log in and start creating roles.
func main() {
	log.SetFlags(0)
	var (
		dsn      = flag.String("dsn", os.Getenv("HR_PG_DSN"), "PostgreSQL DSN")
		email    = flag.String("email", "", "Admin email")
		password = flag.String("password", os.Getenv("HR_ADMIN_PASSWORD"), "Admin password (or HR_ADMIN_PASSWORD)")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or HR_PG_DSN")
	}
	if auth.NormalizeEmail(*email) == "" || *password == "" {
		log.Fatal("usage: bootstrap-admin -email admin@example.com -password secret")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := pg.Open(*dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	if _, err := store.Roles().FindRoleByID(ctx, auth.RoleAdmin); err != nil {
		if !errors.Is(err, auth.ErrNotFound) {
			log.Fatalf("find admin role: %v", err)
		}
		if _, err := store.Roles().Save(ctx, &auth.Role{ID: auth.RoleAdmin, Name: auth.RoleAdmin}); err != nil {
			log.Fatalf("create admin role: %v", err)
		}
	}

	hash, err := auth.HashPassword(*password)
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}
	acc, err := store.Accounts().FindByEmail(ctx, *email)
	switch {
	case errors.Is(err, auth.ErrNotFound):
		acc = &auth.Account{Email: *email}
	case err != nil:
		log.Fatalf("find account: %v", err)
	}
	acc.PasswordHash = hash
	acc.RoleID = auth.RoleAdmin
	saved, err := store.Accounts().Save(ctx, acc)
	if err != nil {
		log.Fatalf("save account: %v", err)
	}
	log.Printf("admin account %s (%s) ready", saved.Email, saved.ID)
}
