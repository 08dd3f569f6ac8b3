package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/edukita/examhall-backend/internal/config"
	"github.com/edukita/examhall-backend/internal/database"
	"github.com/edukita/examhall-backend/internal/logger"
	"github.com/edukita/examhall-backend/internal/model"
	"github.com/edukita/examhall-backend/internal/repository"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	staffRepo := repository.NewStaffRepository(pool)

	// ─── CLI Input ─────────────────────────────────────────────────────
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("=== Create New Staff Account ===")

	// Name
	fmt.Print("Enter Name: ")
	name, _ := reader.ReadString('\n')
	name = strings.TrimSpace(name)
	if name == "" {
		fmt.Println("Error: Name is required")
		return
	}

	// Email
	fmt.Print("Enter Email: ")
	email, _ := reader.ReadString('\n')
	email = strings.TrimSpace(email)
	if email == "" {
		fmt.Println("Error: Email is required")
		return
	}

	// Password
	fmt.Print("Enter Password: ")
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		fmt.Println("\nError reading password")
		return
	}
	password := string(bytePassword)
	fmt.Println() // Newline after password input
	if len(password) < 6 {
		fmt.Println("Error: Password must be at least 6 characters")
		return
	}

	// School ID
	fmt.Print("Enter School ID: ")
	schoolIDStr, _ := reader.ReadString('\n')
	schoolID, err := strconv.Atoi(strings.TrimSpace(schoolIDStr))
	if err != nil {
		fmt.Println("Error: School ID must be a number")
		return
	}

	// Role
	fmt.Print("Enter Role (SUPER_ADMIN, PRINCIPAL, TEACHER; default TEACHER): ")
	roleStr, _ := reader.ReadString('\n')
	role := model.StaffRole(strings.TrimSpace(roleStr))
	if role == "" {
		role = model.RoleTeacher
	}
	switch role {
	case model.RoleSuperAdmin, model.RolePrincipal, model.RoleTeacher:
	default:
		fmt.Println("Error: Unknown role")
		return
	}

	// ─── Logic ─────────────────────────────────────────────────────────

	// Hash Password
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), cfg.BcryptCost)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to hash password")
	}

	newStaff := &model.Staff{
		SchoolID:     schoolID,
		Name:         name,
		Email:        email,
		Role:         role,
		PasswordHash: string(hashedPassword),
	}

	if err := staffRepo.Create(ctx, newStaff); err != nil {
		log.Fatal().Err(err).Msg("Failed to create staff account")
	}

	fmt.Printf("\nSuccess! Staff '%s' (%s, %s) created with ID: %d\n", newStaff.Name, newStaff.Email, newStaff.Role, newStaff.ID)
}
