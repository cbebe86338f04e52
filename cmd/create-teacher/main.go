package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/stemsi/proctorquiz/internal/config"
	"github.com/stemsi/proctorquiz/internal/database"
	"github.com/stemsi/proctorquiz/internal/logger"
	"github.com/stemsi/proctorquiz/internal/model"
	"github.com/stemsi/proctorquiz/internal/repository"
	"github.com/stemsi/proctorquiz/internal/service"
	"github.com/stemsi/proctorquiz/internal/validator"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	validator.Setup()

	ctx := context.Background()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	authService := service.NewAuthService(cfg, repository.NewTeacherRepository(pool))

	// ─── CLI Input ─────────────────────────────────────────────────────
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("=== Create Teacher Account ===")

	fmt.Print("Enter Name: ")
	name, _ := reader.ReadString('\n')

	fmt.Print("Enter Email: ")
	email, _ := reader.ReadString('\n')

	fmt.Print("Enter Password: ")
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		fmt.Println("Error reading password")
		return
	}

	req := model.TeacherRegisterRequest{
		Name:     strings.TrimSpace(name),
		Email:    strings.TrimSpace(email),
		Password: string(bytePassword),
	}
	if fields := validator.Struct(&req); fields != nil {
		for field, msg := range fields {
			fmt.Printf("Error: %s: %s\n", field, msg)
		}
		os.Exit(1)
	}

	// ─── Logic ─────────────────────────────────────────────────────────
	res, err := authService.Register(ctx, req)
	if errors.Is(err, service.ErrEmailTaken) {
		fmt.Printf("Error: %s is already registered\n", req.Email)
		os.Exit(1)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create teacher")
	}

	fmt.Printf("\nSuccess! Teacher '%s' (%s) created with ID: %d\n", res.Teacher.Name, res.Teacher.Email, res.Teacher.ID)
}
