package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/felixgeelhaar/gradebox/internal/domain"
)

// cmdExercise manages exercises
func cmdExercise(args []string) error {
	if len(args) < 1 {
		fmt.Println(`Exercise commands:

  gradebox exercise list [pack]             List packs, or the exercises in a pack
  gradebox exercise info <pack/section/slug> Show exercise details`)
		return nil
	}

	switch args[0] {
	case "list":
		if len(args) > 1 {
			return cmdExercisePack(args[1])
		}
		return cmdExerciseList()
	case "info":
		if len(args) < 2 {
			return fmt.Errorf("exercise ID required (e.g., js-basics/basics/hello-console)")
		}
		return cmdExerciseInfo(args[1])
	default:
		return fmt.Errorf("unknown exercise command: %s", args[0])
	}
}

func cmdExerciseList() error {
	c, err := newClient("")
	if err != nil {
		return err
	}
	defer c.Close()

	var result struct {
		Packs []struct {
			ID            string `json:"id"`
			Name          string `json:"name"`
			Description   string `json:"description"`
			ExerciseCount int    `json:"exercise_count"`
		} `json:"packs"`
	}
	if err := c.do("GET", "/v1/exercises", nil, &result); err != nil {
		return err
	}

	fmt.Println("Available Exercise Packs:")
	for _, pack := range result.Packs {
		fmt.Printf("  %s (%s)\n", pack.Name, pack.ID)
		fmt.Printf("    %s\n", pack.Description)
		fmt.Printf("    Exercises: %d\n\n", pack.ExerciseCount)
	}

	fmt.Println("Use 'gradebox exercise list <pack>' to see a pack's exercises")
	return nil
}

func cmdExercisePack(packID string) error {
	c, err := newClient("")
	if err != nil {
		return err
	}
	defer c.Close()

	var result struct {
		Exercises []struct {
			ID      string `json:"id"`
			Title   string `json:"title"`
			RunMode string `json:"run_mode"`
			XPAward int    `json:"xp_award"`
		} `json:"exercises"`
	}
	if err := c.do("GET", "/v1/exercises/"+url.PathEscape(packID), nil, &result); err != nil {
		return err
	}

	for _, ex := range result.Exercises {
		fmt.Printf("  %-40s %-5s %3d XP  %s\n", ex.ID, ex.RunMode, ex.XPAward, ex.Title)
	}
	return nil
}

func cmdExerciseInfo(id string) error {
	if _, _, ok := domain.SplitExerciseID(id); !ok {
		return fmt.Errorf("exercise ID must be in format: pack/section/slug (e.g., js-basics/basics/hello-console)")
	}

	c, err := newClient("")
	if err != nil {
		return err
	}
	defer c.Close()

	var ex struct {
		domain.Exercise
		HintCount int `json:"hint_count"`
	}
	if err := c.do("GET", "/v1/exercises/"+id, nil, &ex); err != nil {
		return err
	}

	fmt.Printf("Exercise: %s\n\n", ex.Title)
	fmt.Printf("ID:       %s\n", ex.ID)
	fmt.Printf("Run mode: %s\n", ex.RunMode)
	fmt.Printf("XP:       %d\n", ex.XPAward)
	fmt.Printf("Checks:   %d\n", len(ex.Checks))
	fmt.Printf("Hints:    %d\n", ex.HintCount)
	if len(ex.Tags) > 0 {
		fmt.Printf("Tags:     %s\n", strings.Join(ex.Tags, ", "))
	}
	if ex.Instructions != "" {
		fmt.Printf("\nInstructions:\n%s\n", ex.Instructions)
	}
	return nil
}
