package commands

import (
	"fmt"
)

// Shared output helpers so every command prints the same way.

// PrintSeparator prints a visual separator
func PrintSeparator() {
	fmt.Println("───────────────────────────────────────────────────────────")
}

// PrintDoubleSeparator prints a double-line separator
func PrintDoubleSeparator() {
	fmt.Println("═══════════════════════════════════════════════════════════")
}

// PrintWarning prints a warning message
func PrintWarning(message string) {
	fmt.Println()
	fmt.Printf("⚠️  %s\n", message)
	fmt.Println()
}

// PrintSuccess prints a success message
func PrintSuccess(message string) {
	fmt.Printf("✅ %s\n", message)
}

// PrintError prints an error message
func PrintError(message string) {
	fmt.Printf("❌ %s\n", message)
}

// PrintKeyValue prints key-value pairs
func PrintKeyValue(key string, value string, keyWidth int) {
	fmt.Printf("   %-*s : %s\n", keyWidth, key, value)
}

// PrintTableHeader prints a table header
func PrintTableHeader(columns []string, widths []int) {
	for i, col := range columns {
		fmt.Printf("%-*s", widths[i], col)
		if i < len(columns)-1 {
			fmt.Print("  ")
		}
	}
	fmt.Println()

	totalWidth := 0
	for i, width := range widths {
		totalWidth += width
		if i < len(widths)-1 {
			totalWidth += 2
		}
	}
	for i := 0; i < totalWidth; i++ {
		fmt.Print("─")
	}
	fmt.Println()
}

// PrintTableRow prints a table row
func PrintTableRow(values []string, widths []int) {
	for i, val := range values {
		fmt.Printf("%-*s", widths[i], val)
		if i < len(values)-1 {
			fmt.Print("  ")
		}
	}
	fmt.Println()
}
