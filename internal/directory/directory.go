package directory

import (
	"sync"
)

// Student is the reference data the monitor needs to resolve a scan.
type Student struct {
	ID              string `json:"id"`
	StudentID       string `json:"studentId"`
	FirstName       string `json:"firstName"`
	LastName        string `json:"lastName"`
	Course          string `json:"course"`
	RFIDTag         string `json:"rfidTag"`
	ProfileImageURL string `json:"profileImageURL,omitempty"`
}

// FullName renders the display name used in records and notifications.
func (s Student) FullName() string {
	if s.FirstName == "" {
		return s.LastName
	}
	if s.LastName == "" {
		return s.FirstName
	}
	return s.FirstName + " " + s.LastName
}

// Course maps an internal course id to its display code.
type Course struct {
	ID         string `json:"id"`
	CourseID   string `json:"courseId"`
	CourseName string `json:"courseName"`
}

// Directory is the read-only student and course cache the engine resolves
// scans against. It is populated by an external feed (database refresh plus
// invalidation messages) and never mutated by the engine.
type Directory struct {
	mu       sync.RWMutex
	byTag    map[string]Student
	students []Student
	courses  map[string]Course
}

// New returns an empty directory.
func New() *Directory {
	return &Directory{
		byTag:   make(map[string]Student),
		courses: make(map[string]Course),
	}
}

// SetStudents replaces the cached student list.
func (d *Directory) SetStudents(students []Student) {
	byTag := make(map[string]Student, len(students))
	for _, s := range students {
		if s.RFIDTag != "" {
			byTag[s.RFIDTag] = s
		}
	}
	d.mu.Lock()
	d.students = students
	d.byTag = byTag
	d.mu.Unlock()
}

// SetCourses replaces the cached course list.
func (d *Directory) SetCourses(courses []Course) {
	byID := make(map[string]Course, len(courses))
	for _, c := range courses {
		byID[c.ID] = c
	}
	d.mu.Lock()
	d.courses = byID
	d.mu.Unlock()
}

// ByTag resolves a scanned RFID tag to a student.
func (d *Directory) ByTag(tag string) (Student, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.byTag[tag]
	return s, ok
}

// Students returns the cached student list.
func (d *Directory) Students() []Student {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Student, len(d.students))
	copy(out, d.students)
	return out
}

// CourseCode maps a course id to its display code, falling back to the raw id
// when the course is unknown.
func (d *Directory) CourseCode(courseID string) string {
	if courseID == "" {
		return "No Course"
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if c, ok := d.courses[courseID]; ok {
		return c.CourseID
	}
	return courseID
}
