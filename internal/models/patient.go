package models

import "time"

const (
	PatientTypeUniversity    = "University Member"
	PatientTypeNonUniversity = "Non-University Member"
)

// Demographics is shared by approved patients and pending registrations.
type Demographics struct {
	Name                  string `gorm:"size:100;not null" json:"name"`
	Guardian              string `gorm:"size:100" json:"guardian"`
	Aadhar                string `gorm:"uniqueIndex;size:12;not null" json:"aadhar"`
	Phone                 string `gorm:"size:10" json:"phone"`
	Email                 string `gorm:"size:100" json:"email"`
	Gender                string `gorm:"size:10" json:"gender"`
	MaritalStatus         string `gorm:"size:20" json:"marital_status"`
	DOB                   string `gorm:"size:10" json:"dob"` // Format YYYY-MM-DD
	BloodGroup            string `gorm:"size:3" json:"blood_group"`
	Designation           string `gorm:"size:50" json:"designation"`
	IDNumber              string `gorm:"size:50" json:"id_number"`
	DateOfJoining         string `gorm:"size:10" json:"date_of_joining"`
	Duration              string `gorm:"size:50" json:"duration"`
	PhysicalChallenges    string `gorm:"type:text" json:"physical_challenges"`
	PreExistingConditions string `gorm:"type:text" json:"pre_existing_conditions"`
	EmergencyContact      string `gorm:"size:10" json:"emergency_contact"`
	Address               string `gorm:"type:text" json:"address"`
	PatientType           string `gorm:"size:30" json:"patient_type"`
	IsEmployee            bool   `json:"is_employee"`
}

// Patient is an approved identity. Patients are never deleted.
type Patient struct {
	ID               uint64  `gorm:"primaryKey" json:"id"`
	OPNumber         *string `gorm:"uniqueIndex;size:20" json:"op_number"`
	Demographics     `gorm:"embedded"`
	PrimaryPatientID *uint64   `gorm:"index" json:"primary_patient_id,omitempty"`
	Relation         string    `gorm:"size:20" json:"relation,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`

	FamilyMembers []Patient `gorm:"foreignKey:PrimaryPatientID" json:"family_members,omitempty"`
	Visits        []Visit   `gorm:"foreignKey:PatientID" json:"visits,omitempty"`
}

// PendingRegistration is a public self-service submission waiting for an
// OP desk approval. Family members point at their primary via FamilyOfID.
type PendingRegistration struct {
	ID             uint64 `gorm:"primaryKey" json:"id"`
	Demographics   `gorm:"embedded"`
	FamilyOfID     *uint64   `gorm:"index" json:"family_of_id,omitempty"`
	Relation       string    `gorm:"size:20" json:"relation,omitempty"`
	ReasonForVisit string    `gorm:"type:text" json:"reason_for_visit,omitempty"`
	SubmittedAt    time.Time `gorm:"index;not null" json:"createdAt"`

	FamilyMembers []PendingRegistration `gorm:"foreignKey:FamilyOfID" json:"family_details,omitempty"`
}

// PatientInput is the demographics block of every registration form.
type PatientInput struct {
	Name                  string `json:"name" binding:"required,max=100"`
	Guardian              string `json:"guardian" binding:"max=100"`
	Aadhar                string `json:"aadhar" binding:"required,aadhar"`
	Phone                 string `json:"phone" binding:"required,phone10"`
	Email                 string `json:"email" binding:"omitempty,email"`
	Gender                string `json:"gender" binding:"required,oneof=Male Female Other"`
	MaritalStatus         string `json:"marital_status" binding:"omitempty,oneof=Single Married Divorced Widowed"`
	DOB                   string `json:"dob" binding:"required,datetime=2006-01-02"`
	BloodGroup            string `json:"blood_group" binding:"omitempty,bloodgroup"`
	Designation           string `json:"designation" binding:"max=50"`
	IDNumber              string `json:"id_number" binding:"max=50"`
	DateOfJoining         string `json:"date_of_joining" binding:"omitempty,datetime=2006-01-02"`
	Duration              string `json:"duration" binding:"max=50"`
	PhysicalChallenges    string `json:"physical_challenges"`
	PreExistingConditions string `json:"pre_existing_conditions"`
	EmergencyContact      string `json:"emergency_contact" binding:"omitempty,phone10"`
	Address               string `json:"address"`
	PatientType           string `json:"patient_type" binding:"omitempty,oneof='University Member' 'Non-University Member'"`
	IsEmployee            bool   `json:"is_employee"`
}

// FamilyMemberInput is one entry of family_details.
type FamilyMemberInput struct {
	Name       string `json:"name" binding:"required,max=100"`
	Relation   string `json:"relation" binding:"required,relation"`
	DOB        string `json:"dob" binding:"required,datetime=2006-01-02"`
	Gender     string `json:"gender" binding:"omitempty,oneof=Male Female Other"`
	Aadhar     string `json:"aadhar" binding:"required,aadhar"`
	Phone      string `json:"phone" binding:"omitempty,phone10"`
	Email      string `json:"email" binding:"omitempty,email"`
	BloodGroup string `json:"blood_group" binding:"omitempty,bloodgroup"`
}

// RegisterPatientInput is shared by public self-service and OP desk
// registration. ReasonForVisit opens a visit straight away.
type RegisterPatientInput struct {
	PatientInput
	FamilyDetails  []FamilyMemberInput `json:"family_details" binding:"omitempty,max=10,dive"`
	ReasonForVisit string              `json:"reason_for_visit" binding:"max=1000"`
}

// Demographics converts the form into its stored shape.
func (in PatientInput) Demographics() Demographics {
	return Demographics{
		Name:                  in.Name,
		Guardian:              in.Guardian,
		Aadhar:                in.Aadhar,
		Phone:                 in.Phone,
		Email:                 in.Email,
		Gender:                in.Gender,
		MaritalStatus:         in.MaritalStatus,
		DOB:                   in.DOB,
		BloodGroup:            in.BloodGroup,
		Designation:           in.Designation,
		IDNumber:              in.IDNumber,
		DateOfJoining:         in.DateOfJoining,
		Duration:              in.Duration,
		PhysicalChallenges:    in.PhysicalChallenges,
		PreExistingConditions: in.PreExistingConditions,
		EmergencyContact:      in.EmergencyContact,
		Address:               in.Address,
		PatientType:           in.PatientType,
		IsEmployee:            in.IsEmployee,
	}
}

// Demographics of a family member inherit the contact details of the primary.
func (in FamilyMemberInput) Demographics(primary Demographics) Demographics {
	d := Demographics{
		Name:        in.Name,
		Aadhar:      in.Aadhar,
		Phone:       in.Phone,
		Email:       in.Email,
		Gender:      in.Gender,
		DOB:         in.DOB,
		BloodGroup:  in.BloodGroup,
		Address:     primary.Address,
		PatientType: primary.PatientType,
		Guardian:    primary.Name,
	}
	if d.Phone == "" {
		d.Phone = primary.Phone
	}
	return d
}

// Aadhars lists the primary's and every family member's aadhar.
func (in RegisterPatientInput) Aadhars() []string {
	out := []string{in.Aadhar}
	for _, f := range in.FamilyDetails {
		out = append(out, f.Aadhar)
	}
	return out
}
