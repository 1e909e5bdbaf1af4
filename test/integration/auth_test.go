// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package integration

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/holomush/secrets/internal/auth"
	authpg "github.com/holomush/secrets/internal/auth/postgres"
	"github.com/holomush/secrets/internal/store"
	"github.com/holomush/secrets/internal/web"
)

var _ = Describe("Authentication against PostgreSQL", Ordered, func() {
	var (
		ctx       context.Context
		container *postgres.PostgresContainer
		pool      *pgxpool.Pool
		accounts  *authpg.AccountRepository
		sessions  *authpg.SessionRepository
		svc       *auth.Service
		clockMu   sync.Mutex
		now       time.Time
	)

	clock := func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		clockMu.Lock()
		defer clockMu.Unlock()
		now = now.Add(d)
	}
	meta := auth.ClientMeta{UserAgent: "integration", IPAddress: "127.0.0.1"}

	BeforeAll(func() {
		ctx = context.Background()
		var err error
		container, err = postgres.Run(ctx,
			"postgres:18-alpine",
			postgres.WithDatabase("secrets_test"),
			postgres.WithUsername("secrets"),
			postgres.WithPassword("secrets"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second),
			),
		)
		Expect(err).NotTo(HaveOccurred())
		connStr, err := container.ConnectionString(ctx, "sslmode=disable")
		Expect(err).NotTo(HaveOccurred())

		m, err := store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
		Expect(m.Up()).To(Succeed())
		Expect(m.Close()).To(Succeed())

		pool, err = store.Connect(ctx, connStr, store.DefaultConnectOptions())
		Expect(err).NotTo(HaveOccurred())

		accounts = authpg.NewAccountRepository(pool)
		sessions = authpg.NewSessionRepository(pool)

		hasher, err := auth.NewArgon2idHasherWithParams(auth.Argon2Params{Time: 1, Memory: 64, Threads: 1})
		Expect(err).NotTo(HaveOccurred())

		now = time.Now().UTC().Truncate(time.Microsecond)
		svc, err = auth.NewService(accounts, sessions, hasher,
			auth.WithClock(clock),
			auth.WithSessionTTL(time.Hour),
			auth.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func() {
		if pool != nil {
			pool.Close()
		}
		if container != nil {
			Expect(container.Terminate(ctx)).To(Succeed())
		}
	})

	It("enforces email uniqueness in the database", func() {
		a, err := auth.NewAccount("unique@example.com", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(accounts.Create(ctx, a)).To(Succeed())

		b, err := auth.NewAccount("unique@example.com", nil)
		Expect(err).NotTo(HaveOccurred())
		err = accounts.Create(ctx, b)
		Expect(errors.Is(err, auth.ErrConflict)).To(BeTrue())
	})

	It("creates exactly one account under concurrent registration", func() {
		const workers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
			conflicts int
		)
		for range workers {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				_, err := svc.Register(ctx, "crowd@example.com", "pw", meta)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					successes++
				case errors.Is(err, auth.ErrAlreadyRegistered):
					conflicts++
				default:
					Fail("unexpected error: " + err.Error())
				}
			}()
		}
		wg.Wait()
		Expect(successes).To(Equal(1))
		Expect(conflicts).To(Equal(workers - 1))
	})

	It("runs register, login, wrong password and federated merge", func() {
		registered, err := svc.Register(ctx, "Heidi@Example.com", "correct horse", meta)
		Expect(err).NotTo(HaveOccurred())
		Expect(svc.WriteSecret(ctx, registered.Token, "battery staple")).To(Succeed())

		loggedIn, err := svc.Login(ctx, "heidi@example.com", "correct horse", meta)
		Expect(err).NotTo(HaveOccurred())
		Expect(loggedIn.Account.ID).To(Equal(registered.Account.ID))

		_, err = svc.Login(ctx, "heidi@example.com", "wrong", meta)
		Expect(errors.Is(err, auth.ErrInvalidCredentials)).To(BeTrue())

		federated, err := svc.FederatedLogin(ctx, auth.FederatedProfile{
			Provider:      "google",
			Subject:       "g-1",
			Email:         "HEIDI@example.com",
			EmailVerified: true,
		}, meta)
		Expect(err).NotTo(HaveOccurred())
		Expect(federated.Account.ID).To(Equal(registered.Account.ID))

		note, err := svc.ReadSecret(ctx, federated.Token)
		Expect(err).NotTo(HaveOccurred())
		Expect(note).NotTo(BeNil())
		Expect(*note).To(Equal("battery staple"))
	})

	It("expires sessions lazily and purges them", func() {
		result, err := svc.Register(ctx, "expiry@example.com", "pw", meta)
		Expect(err).NotTo(HaveOccurred())

		advance(time.Hour)
		_, err = svc.CurrentAccount(ctx, result.Token)
		Expect(err).NotTo(HaveOccurred(), "valid at exactly the expiry instant")

		advance(time.Second)
		_, err = svc.CurrentAccount(ctx, result.Token)
		Expect(errors.Is(err, auth.ErrUnauthenticated)).To(BeTrue())

		n, err := svc.Sessions().PurgeExpired(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeNumerically(">=", 1))

		_, err = sessions.GetByTokenHash(ctx, auth.HashSessionToken(result.Token))
		Expect(errors.Is(err, auth.ErrNotFound)).To(BeTrue())
	})

	It("logs out one session or all of them", func() {
		first, err := svc.Register(ctx, "logout@example.com", "pw", meta)
		Expect(err).NotTo(HaveOccurred())
		second, err := svc.Login(ctx, "logout@example.com", "pw", meta)
		Expect(err).NotTo(HaveOccurred())
		third, err := svc.Login(ctx, "logout@example.com", "pw", meta)
		Expect(err).NotTo(HaveOccurred())

		Expect(svc.Logout(ctx, first.Token)).To(Succeed())
		Expect(svc.Logout(ctx, first.Token)).To(Succeed())
		_, err = svc.CurrentAccount(ctx, second.Token)
		Expect(err).NotTo(HaveOccurred())

		Expect(svc.LogoutAll(ctx, second.Token)).To(Succeed())
		_, err = svc.CurrentAccount(ctx, third.Token)
		Expect(errors.Is(err, auth.ErrUnauthenticated)).To(BeTrue())
	})

	It("serves the HTTP flows", func() {
		srv, err := web.NewServer(svc, web.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
		Expect(err).NotTo(HaveOccurred())
		ts := httptest.NewServer(srv.Handler())
		defer ts.Close()

		jar, err := cookiejar.New(nil)
		Expect(err).NotTo(HaveOccurred())
		client := &http.Client{Jar: jar}

		resp, err := client.PostForm(ts.URL+"/register", url.Values{
			"username": {"web@example.com"},
			"password": {"pw"},
		})
		Expect(err).NotTo(HaveOccurred())
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))

		resp, err = client.PostForm(ts.URL+"/submit", url.Values{"secret": {"over http"}})
		Expect(err).NotTo(HaveOccurred())
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		resp, err = client.Get(ts.URL + "/secrets")
		Expect(err).NotTo(HaveOccurred())
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(strings.Contains(string(body), "over http")).To(BeTrue())
	})
})
